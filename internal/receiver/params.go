package receiver

import "fmt"

// Defaults for the capture schedule and tracking loop.
const (
	DefaultCorrSize          = 1024
	DefaultSkipBeaconPadding = 6000
	DefaultCarrierRef        = -277800 // Hz

	DefaultBeaconInterval = 1.0  // seconds between beacon pulses
	DefaultMaxCaptureTime = 10.1 // seconds of capture after the first beacon
	DefaultPreampOffTime  = 2.0  // seconds of noise capture with the preamp off
	DefaultPreampOffSkip  = 0.2  // seconds to discard after the preamp switch

	maxTrackingAngleDiffDeg = 50
	trackingGain            = 0.2
	avgAngleWeight          = 0.1
	avgAmplWeight           = 0.1
	beaconTriggerFactor     = 0.8
)

// Params configures a Receiver.
type Params struct {
	SampleRate int
	BlockLen   int
	HistoryLen int

	// Template is the beacon pulse waveform.
	Template []float32

	// Correlation detection threshold: const + snr*noise.
	CorrThreshConst float64
	CorrThreshSNR   float64

	// Carrier detection threshold: const + snr*noise.
	CarrierThreshConst float64
	CarrierThreshSNR   float64

	// CarrierWindow restricts carrier acquisition to signed bins
	// [Lo, Hi] about DC; zero values search the whole spectrum.
	CarrierWindowLo int
	CarrierWindowHi int

	// CarrierRef is the expected tone offset in Hz used to discipline the
	// clock-error estimate.
	CarrierRef float64

	// TunerFreq is the downconverter center frequency in Hz.
	TunerFreq float64

	// CorrSize is the correlation window length W.
	CorrSize int

	// SkipBeaconPadding is the number of samples skipped between a beacon
	// pulse and the first correlation window.
	SkipBeaconPadding int

	// SliceStart and SliceLen select the FFT-bin sub-range of each
	// correlation block written to the trace. SliceLen <= 0 writes from
	// SliceStart to the end of the window.
	SliceStart int
	SliceLen   int

	// SkipBlocks discards this many blocks at startup.
	SkipBlocks int

	BeaconInterval float64
	MaxCaptureTime float64
	PreampOffTime  float64
	PreampOffSkip  float64
}

// withDefaults fills zero-valued scheduling fields.
func (p Params) withDefaults() Params {
	if p.CorrSize == 0 {
		p.CorrSize = DefaultCorrSize
	}
	if p.SkipBeaconPadding == 0 {
		p.SkipBeaconPadding = DefaultSkipBeaconPadding
	}
	if p.CarrierRef == 0 {
		p.CarrierRef = DefaultCarrierRef
	}
	if p.BeaconInterval == 0 {
		p.BeaconInterval = DefaultBeaconInterval
	}
	if p.MaxCaptureTime == 0 {
		p.MaxCaptureTime = DefaultMaxCaptureTime
	}
	if p.PreampOffTime == 0 {
		p.PreampOffTime = DefaultPreampOffTime
	}
	if p.PreampOffSkip == 0 {
		p.PreampOffSkip = DefaultPreampOffSkip
	}
	if p.SliceLen <= 0 || p.SliceLen > p.CorrSize {
		p.SliceLen = p.CorrSize - p.SliceStart
	}
	return p
}

func (p Params) validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", p.SampleRate)
	}
	if p.BlockLen <= 0 || p.HistoryLen < 0 || p.HistoryLen >= p.BlockLen {
		return fmt.Errorf("invalid framing: blockLen=%d historyLen=%d", p.BlockLen, p.HistoryLen)
	}
	if p.CorrSize <= 0 || p.CorrSize > p.BlockLen {
		return fmt.Errorf("correlation size %d does not fit block length %d", p.CorrSize, p.BlockLen)
	}
	if p.SliceStart < 0 || p.SliceStart+p.SliceLen > p.CorrSize {
		return fmt.Errorf("slice [%d, %d) exceeds correlation size %d", p.SliceStart, p.SliceStart+p.SliceLen, p.CorrSize)
	}
	if len(p.Template) == 0 {
		return fmt.Errorf("empty beacon template")
	}

	// At least one correlation window must fit between two consecutive
	// pulses after the padding on both sides.
	if p.SkipBeaconPadding < 0 || p.SkipBeaconPadding+p.CorrSize > p.SampleRate-p.SkipBeaconPadding {
		return fmt.Errorf("correlation cycles do not fit the beacon interval")
	}
	return nil
}

// numCycles is the number of correlation windows per beacon interval.
func (p Params) numCycles() int {
	return (p.SampleRate - 2*p.SkipBeaconPadding) / p.CorrSize
}

func (p Params) stride() int { return p.BlockLen - p.HistoryLen }
