package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nf-tools/nfpush/internal/ble"
	"github.com/nf-tools/nfpush/internal/config"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/nfpush/config.yaml)")
	payloadPath := flag.String("payload", "", "path to payload file (overrides payload_path from config)")
	namePrefix := flag.String("device", "", "advertised-name prefix of the target fixture (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if *payloadPath != "" {
		cfg.PayloadPath = *payloadPath
	}
	if *namePrefix != "" {
		cfg.Device.NamePrefix = *namePrefix
	}

	if err := cfg.Validate(); err != nil {
		fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	payload, err := os.ReadFile(cfg.PayloadPath)
	if err != nil {
		fatalf("reading payload: %v", err)
	}
	if len(payload) == 0 {
		fatalf("payload file %s is empty", cfg.PayloadPath)
	}

	printBanner(cfg, len(payload))

	opts := ble.DefaultClientOptions()
	opts.NamePrefix = cfg.Device.NamePrefix
	opts.Scan.Interval = cfg.Scan.Interval
	opts.Scan.Window = cfg.Scan.Window
	opts.SliceSize = cfg.Transfer.SliceSize
	opts.SliceDelay = time.Duration(cfg.Transfer.SliceDelayMs) * time.Millisecond
	opts.RetryLimit = cfg.Transfer.RetryLimit

	// The transport emits events from its own goroutines; the client
	// serializes them. The sink closure is safe to build before the
	// client exists because no event fires until Start.
	var client *ble.Client
	transport := ble.NewNativeTransport(func(ev ble.Event) {
		client.HandleEvent(ev)
	})
	if err := transport.Enable(); err != nil {
		fatalf("enabling BLE adapter: %v", err)
	}

	client, err = ble.NewClient(transport, payload, opts)
	if err != nil {
		fatalf("client: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := client.Start(); err != nil {
		fatalf("starting scan: %v", err)
	}

	select {
	case <-client.Done():
		slog.Info("payload delivered", "bytes", len(payload))
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		transport.Disconnect()
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file yet: write a commented default for next time and
	// run on the built-in defaults.
	if written, err := config.WriteDefault(); err == nil && written != "" {
		fmt.Fprintf(os.Stderr, "nfpush: wrote default config to %s\n", written)
	}
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, payloadLen int) {
	fmt.Println("=== nfpush ===")
	fmt.Printf("  Device:   %s*\n", cfg.Device.NamePrefix)
	fmt.Printf("  Payload:  %s (%d bytes)\n", cfg.PayloadPath, payloadLen)
	fmt.Printf("  Scan:     interval %d, window %d\n", cfg.Scan.Interval, cfg.Scan.Window)
	fmt.Printf("  Transfer: %d-byte slices, %d ms pacing, %d retries\n",
		cfg.Transfer.SliceSize, cfg.Transfer.SliceDelayMs, cfg.Transfer.RetryLimit)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==============")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "nfpush: "+format+"\n", args...)
	os.Exit(1)
}
