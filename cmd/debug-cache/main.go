// debug-cache dumps every speech lock record in the shared cache, marking
// which ones are still authoritative. Useful when a guild appears stuck.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	"github.com/EasterCompany/dex-voice-responder/config"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
)

func main() {
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		log.Fatalf("Fatal error loading config: %v", err)
	}

	store, err := cache.New(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	if store == nil {
		log.Fatal("No cache configured; nothing to inspect")
	}

	ctx := context.Background()
	keys, err := store.Keys(ctx, speechlock.RecordKey("*"))
	if err != nil {
		log.Fatalf("Failed to list lock records: %v", err)
	}
	if len(keys) == 0 {
		fmt.Println("No speech lock records found.")
		return
	}

	now := time.Now()
	for _, key := range keys {
		fmt.Printf("\n--- Key: %s ---\n", key)
		data, ok, err := store.Get(ctx, key)
		if err != nil {
			log.Printf("Failed to get value for key %s: %v", key, err)
			continue
		}
		if !ok {
			fmt.Println("(expired between scan and read)")
			continue
		}

		var rec speechlock.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			fmt.Printf("Unreadable record: %s\n", data)
			continue
		}

		status := "EXPIRED"
		if rec.Valid(now) {
			remaining := time.Duration(rec.TTLMs)*time.Millisecond - now.Sub(rec.AcquiredAt)
			status = fmt.Sprintf("VALID (%s remaining)", remaining.Round(time.Millisecond))
		}
		fmt.Printf("Owner:    %s\n", rec.OwnerToken)
		fmt.Printf("Acquired: %s\n", rec.AcquiredAt.Format(time.RFC3339))
		fmt.Printf("TTL:      %dms\n", rec.TTLMs)
		fmt.Printf("Status:   %s\n", status)
	}
}
