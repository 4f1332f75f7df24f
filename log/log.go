// Package log provides the service loggers: a plain stderr logger for use
// before the Discord session exists, and a Discord-backed logger that mirrors
// errors into the configured log channel.
package log

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Logger is the logging interface used across the service.
type Logger interface {
	Info(msg string)
	Error(context string, err error)
	Fatal(context string, err error)
}

// StderrLogger writes to stderr only. Used during startup before the Discord
// session is available.
type StderrLogger struct{}

// NewStderrLogger creates a new stderr logger.
func NewStderrLogger() *StderrLogger {
	return &StderrLogger{}
}

func (l *StderrLogger) Info(msg string) {
	log.Printf("[INFO] %s\n", msg)
}

func (l *StderrLogger) Error(context string, err error) {
	log.Printf("[ERROR] in %s: %s\n%v\n", callerInfo(), context, err)
}

func (l *StderrLogger) Fatal(context string, err error) {
	l.Error(context, err)
	os.Exit(1)
}

// DiscordLogger logs to the console and mirrors messages into a Discord
// channel once the session is connected.
type DiscordLogger struct {
	session      *discordgo.Session
	logChannelID string
}

// NewLogger creates a logger backed by the given session and log channel.
func NewLogger(s *discordgo.Session, logChannelID string) *DiscordLogger {
	return &DiscordLogger{session: s, logChannelID: logChannelID}
}

func (l *DiscordLogger) Info(msg string) {
	log.Printf("[INFO] %s\n", msg)
	l.post(msg)
}

func (l *DiscordLogger) Error(context string, err error) {
	msg := fmt.Sprintf("[ERROR] in %s: %s\n%v", callerInfo(), context, err)
	log.Println(msg)
	l.post("```\n" + msg + "\n```")
}

// Fatal logs an error and then exits the program.
func (l *DiscordLogger) Fatal(context string, err error) {
	l.Error(context, err)
	os.Exit(1)
}

func (l *DiscordLogger) post(msg string) {
	if l.session == nil || l.logChannelID == "" {
		return
	}
	// To prevent log spam, we truncate long messages for Discord.
	if len(msg) > 1900 {
		msg = msg[:1900] + "..."
	}
	_, _ = l.session.ChannelMessageSend(l.logChannelID, msg)
}

// callerInfo returns "pkg/file.go:line" for the logging call site.
func callerInfo() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}
