// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/publish"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var (
	bridgeStatusInterval time.Duration
	bridgeKeep           bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Stream sensor samples to NATS",
	Long: `Connect to a module, start streaming and publish every sample to NATS.

Samples are published as JSON on <prefix>.<device>.sample and module status
on <prefix>.<device>.status every --status-interval. The device token is
the device ID with NATS wildcard and separator characters replaced.

The bridge runs until interrupted or the link is lost. Published samples
are drained from the session store on every status tick unless --keep is
set.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().DurationVar(&bridgeStatusInterval, "status-interval", 10*time.Second, "Interval between STATUS requests (0 disables)")
	bridgeCmd.Flags().BoolVar(&bridgeKeep, "keep", false, "Keep published samples in the session store")
	bridgeCmd.Flags().StringVar(&natsURLFlag, "nats-url", "", "NATS server URL (default from config)")
	bridgeCmd.Flags().StringVar(&natsPrefixFlag, "subject-prefix", "", "Subject prefix (default from config)")
}

var (
	natsURLFlag    string
	natsPrefixFlag string
)

func runBridge(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("nats-url") {
		cfg.NATS.URL = natsURLFlag
	}
	if cmd.Flags().Changed("subject-prefix") {
		cfg.NATS.SubjectPrefix = natsPrefixFlag
	}

	nc, err := publish.Connect(publish.Options{
		URL:               cfg.NATS.URL,
		Username:          cfg.NATS.Username,
		Password:          cfg.NATS.Password,
		MaxReconnects:     cfg.NATS.MaxReconnects,
		ReconnectInterval: cfg.NATS.ReconnectInterval,
	}, logger)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer nc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	s, info, err := OpenSession(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer s.Close()

	pub := publish.NewSamplePublisher(nc, cfg.NATS.SubjectPrefix, s.Device().ID, logger)
	logger.Info().
		Str("connection", info).
		Str("device", s.Device().String()).
		Str("subject", pub.SampleSubject()).
		Msg("Bridge connected")

	unsubscribe := s.OnSample(func(sample *pdi.SensorSample) {
		if err := pub.PublishSample(s.CaptureID(), sample); err != nil {
			logger.Debug().Err(err).Msg("Publish failed")
		}
	})
	defer unsubscribe()

	linkLost := make(chan struct{})
	var lostOnce sync.Once
	unsubscribeState := s.OnStateChange(func(st sensoplex.State) {
		if !st.Linked() {
			lostOnce.Do(func() { close(linkLost) })
		}
	})
	defer unsubscribeState()

	if err := s.StartCapture(ctx, cfg.StreamOptions()); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("start capture: %w", err)}
	}

	startTime := time.Now()
	runBridgeLoop(ctx, s, pub, linkLost)

	if s.State().Linked() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Session.CommandTimeout)
		if err := s.StopCapture(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("Stop capture failed")
		}
		stopCancel()
	}
	if err := nc.Flush(); err != nil {
		logger.Warn().Err(err).Msg("NATS flush failed")
	}

	fmt.Printf("\nBridged for %s: published=%d failed=%d\n",
		formatDuration(time.Since(startTime)), pub.Published(), pub.Failed())
	fmt.Print(formatStats(s.Stats()))
	return nil
}

// runBridgeLoop publishes module status periodically until ctx is done or
// the link is lost
func runBridgeLoop(ctx context.Context, s *sensoplex.Session, pub *publish.SamplePublisher, linkLost <-chan struct{}) {
	var tick <-chan time.Time
	if bridgeStatusInterval > 0 {
		ticker := time.NewTicker(bridgeStatusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-linkLost:
			logger.Warn().Msg("Link lost, stopping bridge")
			return
		case <-tick:
			if !bridgeKeep {
				s.Store().Drain()
			}
			st, err := s.RequestStatus(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Status request failed")
				continue
			}
			if err := pub.PublishStatus(st); err != nil {
				logger.Debug().Err(err).Msg("Publish status failed")
			}
		}
	}
}
