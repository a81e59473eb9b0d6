// Command qrscan-preview scans for a QR code while streaming the camera to
// browsers over WebRTC. Viewers connect to /ws; /state and /metrics are
// plain HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/x264"
	"golang.org/x/sync/errgroup"

	"github.com/jenojiji/pion-examples/qrscan/internal/capture"
	"github.com/jenojiji/pion-examples/qrscan/internal/config"
	"github.com/jenojiji/pion-examples/qrscan/internal/detect"
	"github.com/jenojiji/pion-examples/qrscan/internal/log"
	"github.com/jenojiji/pion-examples/qrscan/internal/pipeline"
	"github.com/jenojiji/pion-examples/qrscan/internal/preview"
	"github.com/jenojiji/pion-examples/qrscan/internal/scan"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "qrscan-preview:", err)
		os.Exit(1)
	}
}

func newCodecSelector(bitRate int) (*mediadevices.CodecSelector, error) {
	x264Params, err := x264.NewParams()
	if err != nil {
		return nil, err
	}
	x264Params.BitRate = bitRate
	return mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&x264Params)), nil
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	exitOnDecode := flag.Bool("exit-on-decode", false, "stop serving once the scan has finished")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "qrscan-preview"})
	logger := log.WithComponent("main")

	codec, err := newCodecSelector(cfg.Preview.BitRate)
	if err != nil {
		return fmt.Errorf("x264 params: %w", err)
	}
	srv, err := preview.New(preview.Config{
		Codec:  codec,
		Logger: log.WithComponent("preview"),
	})
	if err != nil {
		return err
	}

	cam := &capture.DeviceCamera{
		Devices: cfg.Devices,
		Codec:   codec,
		Logger:  log.WithComponent("capture"),
	}
	p := pipeline.New(cam, &detect.QRDetector{TryHarder: cfg.Scan.TryHarder}, pipeline.Options{
		Profiles:         cfg.Profiles,
		NegotiateTimeout: cfg.NegotiateTimeout,
		Scan: scan.Options{
			Interval:               cfg.Scan.Interval,
			MaxConsecutiveFailures: cfg.Scan.MaxConsecutiveFailures,
		},
		Surface: srv,
		Logger:  log.WithComponent("pipeline"),
	})
	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	httpSrv := &http.Server{
		Addr:              cfg.Preview.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Watch(gctx, updates)
		return nil
	})
	g.Go(func() error {
		payload, err := p.Run(gctx)
		switch {
		case err != nil:
			// the error stays visible to viewers through /state
			logger.Error().Err(err).Msg("scan failed")
		case payload != "":
			fmt.Println(payload)
		}
		if *exitOnDecode {
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Preview.Listen).Msg("preview server started")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.CloseViewers()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if cerr := p.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("releasing camera")
	}
	return err
}
