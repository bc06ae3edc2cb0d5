package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"parley/internal/app"
)

func main() {
	addr := flag.String("addr", getEnv("PARLEY_ADDR", ":8080"), "server listen address")
	db := flag.String("db", getEnv("PARLEY_DB_PATH", ""), "sqlite database path")
	uploadDir := flag.String("uploads", getEnv("PARLEY_UPLOAD_DIR", ""), "directory for uploaded media")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:      *addr,
		DBPath:    *db,
		UploadDir: *uploadDir,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("Parley server listening on %s", handle.Addr())
	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
