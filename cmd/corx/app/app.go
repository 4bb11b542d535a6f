package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mfkiwl/corx/internal/beacon"
	"github.com/mfkiwl/corx/internal/corx"
	"github.com/mfkiwl/corx/internal/receiver"
	"github.com/mfkiwl/corx/internal/sdr"
	"github.com/mfkiwl/corx/internal/spectrum"
	"github.com/mfkiwl/corx/internal/storage"
	"github.com/mfkiwl/corx/internal/telemetry"
)

// spectrumSnapshotEvery and spectrumSnapshotBins control the density of the
// diagnostic spectra recorded when a metadata database is configured.
const (
	spectrumSnapshotEvery = 64
	spectrumSnapshotBins  = 1024
	spectrumBatchSize     = 16
)

// Run executes one capture and returns the process exit code: 0 on normal
// termination, the block source's error code on a source failure, -1 on any
// other error.
func Run(cfg *Config, logger *slog.Logger) int {
	if err := run(cfg, logger); err != nil {
		logger.Error(err.Error())

		var srcErr *sdr.SourceError
		if errors.As(err, &srcErr) {
			return srcErr.Code
		}
		return -1
	}
	return 0
}

func run(cfg *Config, logger *slog.Logger) (err error) {
	template, err := beacon.LoadTemplate(cfg.Template)
	if err != nil {
		return fmt.Errorf("loading template: %w", err)
	}

	source, err := createSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating block source: %w", err)
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}

	writer, err := createWriter(cfg.Output)
	if err != nil {
		return fmt.Errorf("creating trace writer: %w", err)
	}
	defer func() {
		if cErr := writer.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing trace: %w", cErr)
		}
	}()

	params, err := receiverParams(cfg, template)
	if err != nil {
		return err
	}

	options := []func(*receiver.Receiver){receiver.WithLogger(logger)}

	var store *storage.Store
	if cfg.Database != "" {
		if store, err = storage.New(cfg.Database); err != nil {
			return fmt.Errorf("opening metadata database: %w", err)
		}
		defer func() {
			if cErr := store.Close(); cErr != nil && err == nil {
				err = fmt.Errorf("closing metadata database: %w", cErr)
			}
		}()

		hooks, flush, hookErr := createMetadataHooks(cfg, store, logger)
		if hookErr != nil {
			return hookErr
		}
		options = append(options, hooks...)
		defer flush()
	}

	rx, err := receiver.New(source, writer, params, options...)
	if err != nil {
		return err
	}

	// Asynchronous cancellation only flips a flag on the block source; all
	// state keeps being mutated on this goroutine.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGPIPE)
	defer signal.Stop(signals)
	go func() {
		sig, ok := <-signals
		if !ok {
			return
		}
		logger.Info("received signal, cancelling capture", slog.String("signal", sig.String()))
		rx.Cancel()
	}()

	if err = rx.Start(); err != nil {
		return err
	}

	for {
		ok, stepErr := rx.Next()
		if stepErr != nil {
			return stepErr
		}
		if !ok {
			break
		}
	}

	rx.PrintStats(os.Stdout)
	return nil
}

func receiverParams(cfg *Config, template []float32) (receiver.Params, error) {
	corrConst, corrSNR, err := ParseThreshold(cfg.CorrThreshold)
	if err != nil {
		return receiver.Params{}, fmt.Errorf("correlation threshold: %w", err)
	}
	carrierConst, carrierSNR, err := ParseThreshold(cfg.CarrierThreshold)
	if err != nil {
		return receiver.Params{}, fmt.Errorf("carrier threshold: %w", err)
	}

	params := receiver.Params{
		SampleRate: cfg.Source.SampleRate,
		BlockLen:   cfg.Source.BlockLen,
		HistoryLen: cfg.Source.HistoryLen,
		Template:   template,

		CorrThreshConst:    corrConst,
		CorrThreshSNR:      corrSNR,
		CarrierThreshConst: carrierConst,
		CarrierThreshSNR:   carrierSNR,

		CarrierRef: cfg.CarrierRef,
		TunerFreq:  float64(cfg.Source.CenterFreq),

		CorrSize:          cfg.CorrSize,
		SkipBeaconPadding: cfg.SkipBeaconPadding,
		SliceStart:        cfg.SliceStart,
		SliceLen:          cfg.SliceLen,
		SkipBlocks:        cfg.Source.SkipBlocks,

		BeaconInterval: cfg.BeaconInterval,
		MaxCaptureTime: cfg.MaxCaptureTime,
		PreampOffTime:  cfg.PreampOffTime,
		PreampOffSkip:  cfg.PreampOffSkip,
	}

	if cfg.CarrierWindow != "" {
		if params.CarrierWindowLo, params.CarrierWindowHi, err = parseWindow(cfg.CarrierWindow); err != nil {
			return receiver.Params{}, err
		}
	}
	return params, nil
}

func createSource(cfg *Config, logger *slog.Logger) (sdr.Source, error) {
	if addr, ok := strings.CutPrefix(cfg.Input, "rtltcp://"); ok {
		return sdr.NewRTLTCPSource(addr, cfg.Source, sdr.WithRTLTCPLogger(logger))
	}
	return sdr.NewFileSource(cfg.Input, cfg.Format, cfg.Source)
}

// nopWriteCloser keeps the trace writer from closing stdout.
type nopWriteCloser struct{ io.Writer }

func createWriter(output string) (*corx.Writer, error) {
	switch output {
	case "":
		return corx.NewWriter(nil), nil
	case "-":
		return corx.NewWriter(nopWriteCloser{os.Stdout}), nil
	default:
		f, err := os.Create(output)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", output, err)
		}
		return corx.NewWriter(f), nil
	}
}

// createMetadataHooks opens a session in the metadata store and returns the
// receiver options that record beacons and spectrum snapshots into it, plus
// a flush for the snapshot batch still pending at shutdown.
func createMetadataHooks(cfg *Config, store *storage.Store, logger *slog.Logger) ([]func(*receiver.Receiver), func(), error) {
	station := telemetry.NewStaticProvider(cfg.Station.Latitude, cfg.Station.Longitude, cfg.Station.Altitude).Get()

	sessionID, err := store.CreateSession(cfg.ReceiverID, cfg.Input,
		station.Latitude, station.Longitude, station.Altitude, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}

	var pending []storage.SpectrumData

	beaconHook := func(ev receiver.BeaconEvent) {
		_, insErr := store.InsertBeacon(storage.BeaconData{
			SessionID:        sessionID,
			Timestamp:        ev.Timestamp,
			BlockIdx:         ev.BlockIdx,
			BeaconCount:      ev.BeaconCount,
			SOA:              ev.SOA,
			ClockErrorPPM:    ev.ClockError * 1e6,
			CarrierPos:       ev.CarrierPos,
			CarrierAmplitude: ev.CarrierAmplitude,
			BeaconAmplitude:  ev.BeaconAmplitude,
			BeaconNoise:      ev.BeaconNoise,
			PreampOn:         ev.PreampOn,
		})
		if insErr != nil {
			logger.Error("storing beacon", slog.Any("error", insErr))
		}
	}

	spectrumHook := func(snap spectrum.Snapshot) {
		pending = append(pending, storage.SpectrumData{
			SessionID:  sessionID,
			Timestamp:  snap.Timestamp,
			BlockIdx:   snap.BlockIdx,
			CarrierPos: snap.CarrierPos,
			Power:      snap.Power,
		})
		if len(pending) < spectrumBatchSize {
			return
		}
		if insErr := store.BatchInsertSpectra(pending); insErr != nil {
			logger.Error("storing spectra", slog.Any("error", insErr))
		}
		pending = pending[:0]
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if insErr := store.BatchInsertSpectra(pending); insErr != nil {
			logger.Error("storing spectra", slog.Any("error", insErr))
		}
		pending = nil
	}

	return []func(*receiver.Receiver){
		receiver.WithBeaconHook(beaconHook),
		receiver.WithSpectrumHook(spectrumSnapshotEvery, spectrumSnapshotBins, spectrumHook),
	}, flush, nil
}
