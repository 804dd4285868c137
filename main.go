// Package main provides the entry point for anonvpn, a WireGuard VPN client
// that authenticates with anonymous per-epoch credentials.
//
// Usage:
//
//	anonvpn login
//	anonvpn select
//	sudo anonvpn connect --up
//
// Environment:
//
//	The credential engine executable (engine.command in the config file or
//	ANONVPN_ENGINE) performs the cryptographic exchanges. Bringing the
//	tunnel up requires ip(8) and kernel WireGuard support.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/anonvpn/cli"
	"github.com/yllada/anonvpn/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(cancel)

	code := cli.Execute(ctx, cli.BuildInfo{
		Version:   appVersion,
		BuildTime: buildTime,
		Commit:    commitSHA,
	}, os.Args[1:])

	cancel()
	common.CloseLogger()
	os.Exit(code)
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context so a running tunnel is
// torn down before exit.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
