// Package receiver implements the coupled carrier-tracking, beacon
// acquisition and cycle-extraction loop at the heart of the corx capture
// chain. A Receiver pulls overlapped IQ blocks from a source, locks to the
// reference tone, finds beacon pulses by matched-filter correlation and
// emits phase-corrected correlation blocks to the trace writer.
package receiver

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mfkiwl/corx/internal/beacon"
	"github.com/mfkiwl/corx/internal/carrier"
	"github.com/mfkiwl/corx/internal/corx"
	"github.com/mfkiwl/corx/internal/dsp"
	"github.com/mfkiwl/corx/internal/sdr"
	"github.com/mfkiwl/corx/internal/spectrum"
)

// State is the capture phase the receiver is in.
type State int

const (
	// Searching: no beacon accepted yet.
	Searching State = iota
	// Capturing: inside the beacon capture window, preamp on.
	Capturing
	// CapturingNoise: preamp-off tail, frozen carrier.
	CapturingNoise
	// Done: the block source is exhausted or cancelled.
	Done
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Capturing:
		return "capturing"
	case CapturingNoise:
		return "capturing-noise"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// BeaconEvent describes one accepted beacon for metadata consumers.
type BeaconEvent struct {
	Timestamp        time.Time
	BlockIdx         int
	BeaconCount      int
	SOA              float64
	ClockError       float64
	CarrierPos       float64
	CarrierAmplitude float64
	BeaconAmplitude  float64
	BeaconNoise      float64
	PreampOn         bool
}

// WithLogger sets the logger for capture progress.
func WithLogger(logger *slog.Logger) func(*Receiver) {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// WithBeaconHook registers a callback invoked for every accepted beacon and
// every noise-capture cycle opened.
func WithBeaconHook(hook func(BeaconEvent)) func(*Receiver) {
	return func(r *Receiver) {
		r.beaconHook = hook
	}
}

// WithSpectrumHook registers a callback invoked with a downsampled carrier
// spectrum snapshot every interval blocks.
func WithSpectrumHook(interval, bins int, hook func(spectrum.Snapshot)) func(*Receiver) {
	return func(r *Receiver) {
		r.spectrumEvery = interval
		r.spectrumBins = bins
		r.spectrumHook = hook
	}
}

// Receiver is the capture state machine. It is single-threaded: all methods
// except the source's Cancel must be called from the pipeline goroutine.
type Receiver struct {
	params Params

	source     sdr.Source
	carrierDet *carrier.Detector
	corrDet    *beacon.Detector
	writer     *corx.Writer
	logger     *slog.Logger

	beaconHook    func(BeaconEvent)
	spectrumHook  func(spectrum.Snapshot)
	spectrumEvery int
	spectrumBins  int

	// Scheduling state. blockIdx is the index of the most recently read
	// block; lastBlock and preampOffBlock are 0 until the first beacon
	// schedules them.
	blockIdx       int
	blocksSkip     int
	lastBlock      int
	preampOffBlock int
	done           bool

	// Carrier state.
	locked      bool
	carrierPos  float64 // signed FFT bin, possibly fractional
	samplePhase dsp.DeciAngle
	dcAngle     dsp.DeciAngle
	prevDCAngle dsp.DeciAngle
	dcAmpl      float64
	avgDCAngle  float32 // running average, deliberately unnormalized
	avgDCAmpl   float64
	clockError  float64

	// Beacon state.
	beaconCount    int
	soa            float64
	prevSOA        float64
	cycle          int // -1 when not inside a cycle
	numCycles      int
	numPhaseErrors int

	// Work areas, allocated once at construction.
	syncedFFT    *dsp.FFT // In holds the carrier-synced block
	corrFFT      *dsp.FFT
	correctedFFT []complex64
}

// New creates a receiver over the given block source and trace writer.
func New(source sdr.Source, writer *corx.Writer, params Params, options ...func(*Receiver)) (*Receiver, error) {
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver parameters: %w", err)
	}

	carrierOpts := []func(*carrier.Detector){}
	if params.CarrierWindowLo != 0 || params.CarrierWindowHi != 0 {
		carrierOpts = append(carrierOpts, carrier.WithWindow(params.CarrierWindowLo, params.CarrierWindowHi))
	}
	carrierDet, err := carrier.New(params.BlockLen, params.CarrierThreshConst, params.CarrierThreshSNR, carrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating carrier detector: %w", err)
	}

	corrDet, err := beacon.New(params.Template, params.BlockLen, params.HistoryLen, params.CorrThreshConst, params.CorrThreshSNR)
	if err != nil {
		return nil, fmt.Errorf("creating correlation detector: %w", err)
	}

	r := Receiver{
		params:       params,
		source:       source,
		carrierDet:   carrierDet,
		corrDet:      corrDet,
		writer:       writer,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		blockIdx:     -1,
		blocksSkip:   params.SkipBlocks,
		beaconCount:  -1,
		cycle:        -1,
		numCycles:    params.numCycles(),
		syncedFFT:    dsp.NewFFT(params.BlockLen),
		corrFFT:      dsp.NewFFT(params.CorrSize),
		correctedFFT: make([]complex64, params.CorrSize),
	}
	for _, option := range options {
		option(&r)
	}
	return &r, nil
}

// State returns the current capture phase.
func (r *Receiver) State() State {
	switch {
	case r.done:
		return Done
	case r.preampOffBlock > 0 && r.blockIdx > r.preampOffBlock:
		return CapturingNoise
	case r.beaconCount >= 0:
		return Capturing
	default:
		return Searching
	}
}

// Start prepares the capture: starts the source, enables the preamp and
// writes the trace file header.
func (r *Receiver) Start() error {
	r.locked = false

	if err := r.source.Start(); err != nil {
		return fmt.Errorf("starting block source: %w", err)
	}

	r.source.SetBiasTee(true)

	err := r.writer.WriteFileHeader(corx.FileHeader{
		SliceStart: uint16(r.params.SliceStart),
		SliceSize:  uint16(r.params.SliceLen),
	})
	if err != nil {
		return fmt.Errorf("writing file header: %w", err)
	}
	return nil
}

// Cancel asks the block source to stop; the current or next call to Next
// will observe end-of-data and finalize. Safe to call from a signal context.
func (r *Receiver) Cancel() {
	r.source.Cancel()
}

// Next processes exactly one IQ block. It returns false when the source is
// exhausted or cancelled; a non-nil error is fatal.
func (r *Receiver) Next() (bool, error) {
	nextIdx := r.blockIdx + 1

	if r.preampOffBlock > 0 && nextIdx == r.preampOffBlock {
		r.logger.Info("switching off preamp", slog.Int("block", nextIdx))

		if r.cycle >= 0 {
			r.cycle = -1
			if err := r.writer.WriteCycleStop(); err != nil {
				return false, fmt.Errorf("closing cycle: %w", err)
			}
		}

		r.source.SetBiasTee(false)

		r.blocksSkip = int(r.params.PreampOffSkip * float64(r.params.SampleRate) / float64(r.params.stride()))
		r.logger.Info("skipping switchover transient", slog.Int("blocks", r.blocksSkip))
	}

	if r.lastBlock > 0 && nextIdx == r.lastBlock {
		r.source.Cancel()
	}

	if !r.source.Next() {
		return false, r.finalize()
	}

	block := r.source.Data()
	r.blockIdx = block.Index

	if r.blocksSkip > 0 {
		r.blocksSkip--
		return true, nil
	}

	if r.preampOffBlock > 0 && r.blockIdx > r.preampOffBlock {
		return true, r.captureNoise(block)
	}

	r.recoverCarrier(block)

	// Keep the shifted waveform phase-continuous across the block stride.
	r.samplePhase = dsp.NormalizeDeciAngle(r.samplePhase -
		dsp.DeciAngle(r.carrierPos*(1-float64(r.params.HistoryLen)/float64(r.params.BlockLen))))

	r.avgDCAngle = r.dcAngle*avgAngleWeight + r.avgDCAngle*(1-avgAngleWeight)
	r.avgDCAmpl = r.dcAmpl*avgAmplWeight + r.avgDCAmpl*(1-avgAmplWeight)

	if !r.locked {
		return true, nil
	}

	if r.cycle == -1 && r.dcAmpl < r.avgDCAmpl*beaconTriggerFactor {
		r.logger.Debug("carrier dip",
			slog.Int("block", r.blockIdx),
			slog.Float64("dc", r.dcAmpl),
			slog.Float64("avg", r.avgDCAmpl))

		if err := r.findBeacon(block); err != nil {
			return false, err
		}
	}

	if r.cycle >= 0 {
		if err := r.extractCorrBlocks(); err != nil {
			return false, err
		}
	}

	return true, nil
}

// finalize closes any open cycle once the source reports end-of-data.
func (r *Receiver) finalize() error {
	r.done = true

	var err error
	if r.cycle >= 0 {
		r.cycle = -1
		err = r.writer.WriteCycleStop()
	}

	if srcErr := r.source.Err(); srcErr != nil {
		return fmt.Errorf("block source failed: %w", srcErr)
	}
	if err != nil {
		return fmt.Errorf("closing cycle: %w", err)
	}
	return nil
}

// PrintStats reports the source's read statistics.
func (r *Receiver) PrintStats(w io.Writer) {
	r.source.PrintStats(w)
}
