package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/radio/goble"
	"github.com/srg/blecentral/internal/radio/tinygo"
	"github.com/srg/blecentral/internal/scan"
	"github.com/srg/blecentral/pkg/config"
)

// radioFactory opens the configured backend (can be overridden in tests)
var radioFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Radio, error) {
	switch cfg.Backend {
	case config.BackendTinyGo:
		r, err := tinygo.New(logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		r, err := goble.New(logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// loadConfig reads --config, or the default config file when it exists, and applies flag overrides.
// The returned bool reports whether a file was loaded.
func loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.DefaultConfigPath()
	}

	cfg := config.DefaultConfig()
	fromFile := false
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			loaded, err := config.Load(path)
			if err != nil {
				return nil, false, err
			}
			cfg, fromFile = loaded, true
		}
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, fromFile, nil
}

// session is one command's client, from radio open to close
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *central.Client
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg, fromFile)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio, err := radioFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := central.New(radio, cfg.NewGate(logger), cfg.ClientOptions(), logger)
	if err != nil {
		_ = radio.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, client: client}, nil
}

// commandContext is cancelled on Ctrl+C or SIGTERM
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// find scans until a peripheral with address shows up or the scan timeout passes
func (s *session) find(ctx context.Context, address string) (*device.Peripheral, error) {
	if err := s.client.StartScan([]scan.Filter{{Address: address}}, nil); err != nil {
		return nil, err
	}
	defer func() { _ = s.client.StopScan() }()

	scanCtx := ctx
	if s.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
	}

	discoveries := s.client.Discoveries()
	for {
		select {
		case d, ok := <-discoveries:
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
			}
			if p, found := s.client.Lookup(d.Identifier); found {
				return p, nil
			}
		case <-scanCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrDeviceNotFound, address, s.cfg.ScanTimeout)
		}
	}
}

// connect finds address, opens a link and discovers its services
func (s *session) connect(ctx context.Context, address string) ([]device.ServiceDef, error) {
	p, err := s.find(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := s.client.Connect(ctx, p); err != nil {
		return nil, err
	}
	return s.client.DiscoverServices(ctx)
}

// close drops the link, if any, and releases the radio
func (s *session) close() {
	if s.client.State() == central.Connected {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DisconnectTimeout+time.Second)
		defer cancel()
		if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, device.ErrNotConnected) {
			s.logger.WithField("error", err).Warn("Disconnect failed")
		}
	}
	if err := s.client.Close(); err != nil {
		s.logger.WithField("error", err).Debug("Closing client failed")
	}
}
