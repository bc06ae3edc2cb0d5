package main

import (
	"flag"
	"fmt"
	"os"

	"parley/internal/app"
)

func main() {
	defaultServer := envOrDefault("PARLEY_SERVER", "")
	defaultUser := envOrDefault("PARLEY_USER", "")

	serverURL := flag.String("server", defaultServer, "server URL (e.g., ws://localhost:8080/ws)")
	username := flag.String("user", defaultUser, "username")
	displayName := flag.String("name", "", "display name")
	demo := flag.Bool("demo", false, "run against the in-process simulator, no network")
	flag.Parse()

	var chatID string
	if args := flag.Args(); len(args) >= 1 {
		chatID = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL:   *serverURL,
		Username:    *username,
		DisplayName: *displayName,
		ChatID:      chatID,
		Demo:        *demo,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
