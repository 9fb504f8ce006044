// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/export"
	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var (
	captureDuration time.Duration
	captureFields   []string
	captureFormat   string
	captureDir      string
	captureFile     string
	captureDelete   bool
	captureDB       bool
	captureQuiet    bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Stream sensor samples and export them",
	Long: `Connect to a module, stream the selected sensor fields and export the
captured samples when streaming stops.

Streaming runs for --duration, or until interrupted with Ctrl+C when the
duration is 0. The store is written to --dir as CSV, JSON Lines or CBOR.
With --db the samples are also inserted into PostgreSQL (database.dsn or
SENSOPLEX_DATABASE_URL).

  sensoplex capture --fields accelerometer,gyroscope --duration 30s
  sensoplex capture --fields all --format cbor --dir ./runs
  sensoplex capture --delete --dir ./runs     # remove earlier exports

Exit codes:
  0 - Capture exported
  1 - Capture or export failed
  2 - Connection error`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 10*time.Second, "Capture duration (0 runs until interrupted)")
	captureCmd.Flags().StringSliceVarP(&captureFields, "fields", "f", nil, "Stream fields to capture, or \"all\" (default from config)")
	captureCmd.Flags().StringVar(&captureFormat, "format", "", "Export format: csv, jsonl or cbor (default from config)")
	captureCmd.Flags().StringVar(&captureDir, "dir", "", "Export directory (default from config)")
	captureCmd.Flags().StringVarP(&captureFile, "output", "o", "", "Export file name (default sensor-data.<ext>)")
	captureCmd.Flags().BoolVar(&captureDelete, "delete", false, "Delete exported files in the export directory and exit")
	captureCmd.Flags().BoolVar(&captureDB, "db", false, "Also insert samples into PostgreSQL")
	captureCmd.Flags().BoolVarP(&captureQuiet, "quiet", "q", false, "Do not print samples as they arrive")
}

func runCapture(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("fields") {
		cfg.Capture.Fields = captureFields
	}
	if flags.Changed("format") {
		cfg.Capture.Format = captureFormat
	}
	if flags.Changed("dir") {
		cfg.Capture.Dir = captureDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if captureDelete {
		n, err := export.DeleteAll(cfg.Capture.Dir)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		fmt.Printf("Deleted %d exported file(s) from %s\n", n, cfg.Capture.Dir)
		return nil
	}

	if captureDB && cfg.Postgres.DSN == "" {
		return fmt.Errorf("--db requires database.dsn or SENSOPLEX_DATABASE_URL")
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, info, err := OpenSession(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer s.Close()

	opts := cfg.StreamOptions()
	fmt.Printf("Sensoplex - Capture\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Device: %s\n", s.Device())
	fmt.Printf("Fields: %s\n", opts)
	if captureDuration > 0 {
		fmt.Printf("Duration: %s\n", formatDuration(captureDuration))
	} else {
		fmt.Printf("Press Ctrl+C to stop\n")
	}
	fmt.Println()

	if !captureQuiet {
		unsubscribe := s.OnSample(func(sample *pdi.SensorSample) {
			fmt.Printf("[%s] STREAM_RECORD\n%s", sample.ReceivedAt.Format("15:04:05.000"), pdi.FormatSample(sample))
		})
		defer unsubscribe()
	}

	linkLost := make(chan struct{})
	var lostOnce sync.Once
	unsubscribeState := s.OnStateChange(func(st sensoplex.State) {
		if !st.Linked() {
			lostOnce.Do(func() { close(linkLost) })
		}
	})
	defer unsubscribeState()

	startTime := time.Now()
	if err := s.StartCapture(ctx, opts); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("start capture: %w", err)}
	}
	captureID := s.CaptureID()

	waitCapture(ctx, captureDuration, linkLost)
	elapsed := time.Since(startTime)

	// Use a fresh context so an interrupt still stops the stream
	if s.State().Linked() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Session.CommandTimeout)
		if err := s.StopCapture(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("Stop capture failed")
		}
		stopCancel()
	}

	samples := s.Store().All()
	fmt.Printf("\nCaptured %d sample(s) in %s\n", len(samples), formatDuration(elapsed))
	fmt.Print(formatStats(s.Stats()))

	if len(samples) == 0 {
		return &exitError{code: 1, err: fmt.Errorf("no samples captured")}
	}

	path, err := export.WriteFile(cfg.Capture.Dir, captureFile, cfg.Capture.Format, opts, samples)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	fmt.Printf("Exported to %s\n", path)

	if captureDB {
		if err := storeCapture(captureID, s.Device().ID, samples); err != nil {
			return &exitError{code: 1, err: err}
		}
		fmt.Printf("Inserted %d sample(s) as capture %s\n", len(samples), captureID)
	}
	return nil
}

// waitCapture blocks until the duration elapses, ctx is cancelled or the
// link is lost. A zero duration waits for ctx or link loss only.
func waitCapture(ctx context.Context, d time.Duration, linkLost <-chan struct{}) {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-timeout:
	case <-ctx.Done():
	case <-linkLost:
		logger.Warn().Msg("Link lost during capture")
	}
}

func storeCapture(captureID uuid.UUID, deviceID string, samples []*pdi.SensorSample) error {
	sink, err := export.NewPostgresSink(cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sink.Migrate(ctx); err != nil {
		return err
	}
	return sink.InsertAll(ctx, captureID, deviceID, samples)
}
