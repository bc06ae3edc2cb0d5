package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"parley/internal/app"
	"parley/internal/version"
)

const (
	modeServer  = "server"
	modeClient  = "client"
	modeLocal   = "local"
	modeUpdate  = "update"
	modeVersion = "version"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	switch mode {
	case modeVersion:
		fmt.Printf("parley v%s\n", version.Version)
		return
	case modeUpdate:
		updateCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := version.UpdateToLatest(updateCtx); err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
			os.Exit(1)
		}
		return
	}
	flagSet := flag.NewFlagSet("parley", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("PARLEY_ADDR", defaultAddrForMode(mode)), "server listen address")
	db := flagSet.String("db", envOrDefault("PARLEY_DB_PATH", ""), "sqlite database path (defaults to a per-user path)")
	uploadDir := flagSet.String("uploads", envOrDefault("PARLEY_UPLOAD_DIR", ""), "directory for uploaded media")
	serverURL := flagSet.String("server-url", envOrDefault("PARLEY_SERVER", ""), "server URL (client mode)")
	username := flagSet.String("user", envOrDefault("PARLEY_USER", ""), "username")
	displayName := flagSet.String("name", "", "display name")
	chatID := flagSet.String("chat", "", "chat to join")
	demo := flagSet.Bool("demo", false, "run against the in-process simulator, no network")
	settings := flagSet.String("settings", envOrDefault("PARLEY_SETTINGS_PATH", ""), "settings file path")
	flagSet.Parse(args)

	serverCfg := app.ServerConfig{
		Addr:      *addr,
		DBPath:    *db,
		UploadDir: *uploadDir,
	}
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}

	clientCfg := app.ClientConfig{
		ServerURL:    *serverURL,
		Username:     *username,
		DisplayName:  *displayName,
		ChatID:       *chatID,
		Demo:         *demo,
		SettingsPath: *settings,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg)
	default:
		err = app.RunClient(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Parley server listening on %s (db %s)\n", handle.Addr(), cfg.DBPath)
	return handle.Wait()
}

// runLocalMode starts an ephemeral server on a loopback port and points the
// client at it, so a single command gives a full working setup.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(serverCfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = "ws://" + handle.Addr() + "/ws"
	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeUpdate, modeVersion:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
