// Command qrscan opens the local camera, waits for the first QR code and
// prints its payload.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jenojiji/pion-examples/qrscan/internal/capture"
	"github.com/jenojiji/pion-examples/qrscan/internal/config"
	"github.com/jenojiji/pion-examples/qrscan/internal/detect"
	"github.com/jenojiji/pion-examples/qrscan/internal/log"
	"github.com/jenojiji/pion-examples/qrscan/internal/pipeline"
	"github.com/jenojiji/pion-examples/qrscan/internal/scan"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "qrscan:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	list := flag.Bool("list", false, "list video devices and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel})
	logger := log.WithComponent("qrscan")

	if *list {
		devices := capture.Devices()
		fmt.Printf("=== Found %d video device(s) ===\n", len(devices))
		for _, d := range devices {
			fmt.Printf("  Label: %q  DeviceID: %q\n", d.Label, d.ID)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cam := &capture.DeviceCamera{
		Devices: cfg.Devices,
		Logger:  log.WithComponent("capture"),
	}
	p := pipeline.New(cam, &detect.QRDetector{TryHarder: cfg.Scan.TryHarder}, pipeline.Options{
		Profiles:         cfg.Profiles,
		NegotiateTimeout: cfg.NegotiateTimeout,
		Scan: scan.Options{
			Interval:               cfg.Scan.Interval,
			MaxConsecutiveFailures: cfg.Scan.MaxConsecutiveFailures,
		},
		Logger: log.WithComponent("pipeline"),
	})
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Msg("releasing camera")
		}
	}()

	payload, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if payload == "" {
		return errors.New("interrupted before a code was decoded")
	}
	fmt.Println(payload)
	return nil
}
