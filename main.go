package main

import (
	"context"
	"log"

	"github.com/EasterCompany/dex-voice-responder/app"
)

func main() {
	a, err := app.NewApp(context.Background())
	if err != nil {
		log.Fatalf("%v", err)
	}
	a.Run()
}
