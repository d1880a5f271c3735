// ABOUTME: Entry point for the lockstep WebSocket relay
// ABOUTME: Serves a shared broadcast channel for nodes that cannot use multicast
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/discovery"
	"github.com/Resonate-Protocol/lockstep-go/internal/ui"
	"github.com/Resonate-Protocol/lockstep-go/internal/version"
	"github.com/Resonate-Protocol/lockstep-go/pkg/transport"
	"github.com/hashicorp/go-hclog"
)

var (
	port    = flag.Int("port", 8928, "WebSocket relay port")
	name    = flag.String("name", "", "Relay friendly name (default: hostname-lockstep-relay)")
	logFile = flag.String("log-file", "lockstep-relay.log", "Log file path")
	debug   = flag.Bool("debug", false, "Enable debug logging")
	noMDNS  = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI   = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	var output io.Writer = f
	if !useTUI {
		output = io.MultiWriter(os.Stdout, f)
	}

	level := hclog.Info
	if *debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "lockstep-relay",
		Level:      level,
		Output:     output,
		TimeFormat: "15:04:05.000",
	})

	relayName := *name
	if relayName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		relayName = fmt.Sprintf("%s-lockstep-relay", hostname)
	}

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting relay", "name", relayName, "addr", addr, "version", version.Version, "log_file", *logFile)

	relay := transport.NewRelay(transport.RelayConfig{Addr: addr, Logger: logger})

	if !*noMDNS {
		mdns := discovery.NewManager(discovery.Config{
			ServiceName: relayName,
			Port:        *port,
			Path:        transport.RelayPath,
			Logger:      logger,
		})
		if err := mdns.Advertise(); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer mdns.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- relay.ListenAndServe()
	}()

	var tui *ui.RelayTUI
	var quit <-chan struct{}
	if useTUI {
		tui = ui.NewRelayTUI(ui.RelayStatus{Name: relayName, Addr: addr, MDNS: !*noMDNS})
		quit = tui.QuitChan()
		go func() {
			if err := tui.Start(); err != nil {
				logger.Error("tui failed", "error", err)
			}
		}()
		go statusLoop(relay, tui, relayName, addr, !*noMDNS)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down gracefully", "signal", sig.String())
	case <-quit:
		logger.Info("received quit from TUI")
	case err := <-serveErr:
		if err != nil {
			logger.Error("relay error", "error", err)
			os.Exit(1)
		}
	}

	if tui != nil {
		tui.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	stats := relay.Stats()
	logger.Info("relay stopped", "forwarded", stats.Forwarded, "dropped", stats.Dropped, "uptime", relay.Uptime().Round(time.Second))
}

// statusLoop refreshes the TUI once a second
func statusLoop(relay *transport.Relay, tui *ui.RelayTUI, name, addr string, mdns bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := relay.Stats()
		tui.Update(ui.RelayStatus{
			Name:      name,
			Addr:      addr,
			Uptime:    relay.Uptime(),
			Clients:   stats.Clients,
			Forwarded: stats.Forwarded,
			Dropped:   stats.Dropped,
			MDNS:      mdns,
		})
	}
}
