package receiver

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/mfkiwl/corx/internal/corx"
	"github.com/mfkiwl/corx/internal/sdr"
)

// Test geometry: one beacon interval of 40960 samples holds exactly 36
// correlation windows of 1024 samples between 2048 samples of padding on
// either side.
const (
	testRate     = 40960
	testBlockLen = 8192
	testHistory  = 2048
	testStride   = testBlockLen - testHistory
	testCorrSize = 1024
	testPadding  = 2048
	testBin      = 37.0
)

func testParams(tpl []float32) Params {
	return Params{
		SampleRate:        testRate,
		BlockLen:          testBlockLen,
		HistoryLen:        testHistory,
		Template:          tpl,
		CorrThreshConst:   0,
		CorrThreshSNR:     15,
		CarrierThreshSNR:  15,
		CorrSize:          testCorrSize,
		SkipBeaconPadding: testPadding,
		// Reference chosen so the expected clock error of the synthetic
		// stimulus is zero.
		CarrierRef: testBin * testRate / testBlockLen,
		TunerFreq:  1.4289e9,

		BeaconInterval: 1.0,
		MaxCaptureTime: 2.5,
		PreampOffTime:  1.0,
		PreampOffSkip:  0.2,
	}
}

func testTemplate() []float32 {
	tpl := make([]float32, 2048)
	for i := range tpl {
		x := float64(i) / float64(len(tpl))
		tpl[i] = float32(math.Sin(2 * math.Pi * (3*x + 120*x*x)))
	}
	return tpl
}

// genStimulus builds a carrier tone at the given fractional bin, with the
// carrier gapped and the template inserted (modulated onto the carrier
// frequency) at each pulse position.
func genStimulus(n int, bin float64, tpl []float32, pulses []int) []complex64 {
	s := make([]complex64, n)
	freq := 2 * math.Pi * bin / testBlockLen
	for i := range s {
		sin, cos := math.Sincos(freq * float64(i))
		s[i] = complex(float32(cos), float32(sin))
	}
	for _, p := range pulses {
		for i := range tpl {
			if p+i >= n {
				break
			}
			sin, cos := math.Sincos(freq * float64(p+i))
			s[p+i] = complex(float32(float64(tpl[i])*cos), float32(float64(tpl[i])*sin))
		}
	}
	return s
}

// biasRecorder wraps a source and records bias-tee transitions.
type biasRecorder struct {
	*sdr.MemorySource
	calls []bool
}

func (b *biasRecorder) SetBiasTee(on bool) bool {
	b.calls = append(b.calls, on)
	return true
}

func runToEnd(t *testing.T, r *Receiver) {
	t.Helper()
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for {
		ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return
		}
	}
}

func readTrace(t *testing.T, raw []byte) (corx.FileHeader, []*corx.Cycle) {
	t.Helper()
	rd, err := corx.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	var cycles []*corx.Cycle
	for {
		cycle, err := rd.NextCycle()
		if errors.Is(err, io.EOF) {
			return rd.Header(), cycles
		}
		if err != nil {
			t.Fatalf("NextCycle: %v", err)
		}
		cycles = append(cycles, cycle)
	}
}

func TestSyntheticToneLocksCarrier(t *testing.T) {
	const nBlocks = 20
	samples := genStimulus(testBlockLen+nBlocks*testStride, testBin+0.4, nil, nil)

	src := sdr.NewMemorySource(samples, sdr.Config{BlockLen: testBlockLen, HistoryLen: testHistory})

	var buf bytes.Buffer
	w := corx.NewWriter(&buf)
	r, err := New(src, w, testParams(testTemplate()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err = r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	lockedAt := -1
	for {
		ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if r.locked && lockedAt < 0 {
			lockedAt = r.blockIdx
		}
	}

	if lockedAt < 0 || lockedAt > 2 {
		t.Fatalf("carrier locked at block %d, want within the first 3 blocks", lockedAt)
	}
	if diff := math.Abs(r.carrierPos - (testBin + 0.4)); diff > 0.05 {
		t.Fatalf("carrier position = %v, want within 0.05 of %v", r.carrierPos, testBin+0.4)
	}
	if r.beaconCount != -1 {
		t.Fatalf("beacon count = %d, want -1 (no beacons)", r.beaconCount)
	}

	// No beacons: the trace holds the file header and nothing else.
	if err = w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	header, cycles := readTrace(t, buf.Bytes())
	if len(cycles) != 0 {
		t.Fatalf("got %d cycles, want none", len(cycles))
	}
	if header.SliceSize != testCorrSize {
		t.Fatalf("slice size = %d, want %d", header.SliceSize, testCorrSize)
	}
}

func TestBeaconCaptureEndToEnd(t *testing.T) {
	tpl := testTemplate()
	const firstPulse = 200000
	pulses := []int{firstPulse, firstPulse + testRate, firstPulse + 2*testRate, firstPulse + 3*testRate}
	samples := genStimulus(400000, testBin, tpl, pulses)

	src := &biasRecorder{MemorySource: sdr.NewMemorySource(samples, sdr.Config{BlockLen: testBlockLen, HistoryLen: testHistory})}

	var events []BeaconEvent
	var buf bytes.Buffer
	w := corx.NewWriter(&buf)
	r, err := New(src, w, testParams(tpl),
		WithBeaconHook(func(ev BeaconEvent) { events = append(events, ev) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, r)

	if r.State() != Done {
		t.Fatalf("state = %v, want done", r.State())
	}

	if err = w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, cycles := readTrace(t, buf.Bytes())
	if len(cycles) == 0 {
		t.Fatal("no cycles in trace")
	}

	// The first cycle anchors on the first pulse.
	first := cycles[0].Header
	if !first.PreampOn {
		t.Fatal("first cycle written with preamp off")
	}
	if diff := math.Abs(first.SOA - firstPulse); diff > 2 {
		t.Fatalf("first soa = %v, want within 2 samples of %d", first.SOA, firstPulse)
	}
	if first.BeaconAmplitude == 0 {
		t.Fatal("beacon amplitude not recorded")
	}
	if math.Abs(float64(first.ClockError)) > 1e-6 {
		t.Fatalf("clock error = %v, want ~0 for the synthetic stimulus", first.ClockError)
	}

	// Preamp-on cycles come first, then at least one noise cycle with
	// zeroed amplitudes.
	var noiseCycles int
	seenNoise := false
	for i, cycle := range cycles {
		if cycle.Header.PreampOn {
			if seenNoise {
				t.Fatalf("cycle %d: preamp on after noise capture began", i)
			}
			continue
		}
		seenNoise = true
		noiseCycles++
		if cycle.Header.BeaconAmplitude != 0 || cycle.Header.BeaconNoise != 0 || cycle.Header.CarrierAmplitude != 0 {
			t.Fatalf("noise cycle %d has nonzero amplitudes: %+v", i, cycle.Header)
		}
	}
	if noiseCycles == 0 {
		t.Fatal("no noise-capture cycles in trace")
	}

	// Every record's quantized phase error stays clear of the terminator.
	for _, cycle := range cycles {
		for _, block := range cycle.Blocks {
			if block.PhaseError == corx.EndOfCycle {
				t.Fatal("sentinel phase error inside a cycle")
			}
			if len(block.Samples) != testCorrSize {
				t.Fatalf("cycle block has %d samples, want %d", len(block.Samples), testCorrSize)
			}
		}
	}

	// Bias tee: on at start, off exactly once at the preamp switch.
	if len(src.calls) != 2 || src.calls[0] != true || src.calls[1] != false {
		t.Fatalf("bias tee transitions = %v, want [true false]", src.calls)
	}

	// Beacon hook fired for the accepted beacons and the noise cycles.
	if len(events) < 2 {
		t.Fatalf("got %d beacon events, want at least 2", len(events))
	}
	if events[0].BeaconCount != 0 {
		t.Fatalf("first beacon count = %d, want 0", events[0].BeaconCount)
	}
}

func TestMissedPulse(t *testing.T) {
	tpl := testTemplate()
	const firstPulse = 200000
	// Pulses one and three only; pulse two is omitted.
	pulses := []int{firstPulse, firstPulse + 2*testRate}
	samples := genStimulus(firstPulse+2*testRate+3*testBlockLen, testBin, tpl, pulses)

	src := sdr.NewMemorySource(samples, sdr.Config{BlockLen: testBlockLen, HistoryLen: testHistory})

	params := testParams(tpl)
	params.MaxCaptureTime = 3.5 // keep capturing across the gap
	params.PreampOffTime = 0.5

	var buf bytes.Buffer
	r, err := New(src, corx.NewWriter(&buf), params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, r)

	// The second detection is two intervals after the first, so the count
	// advances by two.
	if r.beaconCount != 2 {
		t.Fatalf("beacon count = %d, want 2 after a missed pulse", r.beaconCount)
	}
}

func TestTrackingLossReacquires(t *testing.T) {
	const nBlocks = 30
	n := testBlockLen + nBlocks*testStride
	samples := genStimulus(n, testBin, nil, nil)

	// A 90 degree phase jump aligned with a block boundary, so one block's
	// DC angle steps by more than the tracking limit.
	jumpAt := 11 * testStride
	for i := jumpAt; i < n; i++ {
		samples[i] *= complex(0, 1)
	}

	src := sdr.NewMemorySource(samples, sdr.Config{BlockLen: testBlockLen, HistoryLen: testHistory})

	var buf bytes.Buffer
	r, err := New(src, corx.NewWriter(&buf), testParams(testTemplate()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err = r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for {
		ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
	}

	if !r.locked {
		t.Fatal("carrier not re-locked after phase jump")
	}
	if diff := math.Abs(r.carrierPos - testBin); diff > 0.1 {
		t.Fatalf("carrier position = %v, want near %v after reacquisition", r.carrierPos, testBin)
	}
}

func TestVoidWriterSameBehavior(t *testing.T) {
	tpl := testTemplate()
	const firstPulse = 200000
	pulses := []int{firstPulse, firstPulse + testRate}
	samples := genStimulus(300000, testBin, tpl, pulses)

	src := sdr.NewMemorySource(samples, sdr.Config{BlockLen: testBlockLen, HistoryLen: testHistory})

	r, err := New(src, corx.NewWriter(nil), testParams(tpl))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, r)

	if r.beaconCount < 0 {
		t.Fatal("no beacon accepted with void writer")
	}
}

func TestCancelClosesOpenCycle(t *testing.T) {
	tpl := testTemplate()
	const firstPulse = 200000
	samples := genStimulus(300000, testBin, tpl, []int{firstPulse})

	src := sdr.NewMemorySource(samples, sdr.Config{BlockLen: testBlockLen, HistoryLen: testHistory})

	var buf bytes.Buffer
	w := corx.NewWriter(&buf)
	r, err := New(src, w, testParams(tpl))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err = r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancelled := false
	for {
		ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if !cancelled && r.cycle >= 0 {
			// Cancel mid-cycle; the drain path must close it.
			r.Cancel()
			cancelled = true
		}
	}
	if !cancelled {
		t.Fatal("capture never entered a cycle")
	}

	// The trace must parse to completion: every cycle terminated.
	if err = w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, cycles := readTrace(t, buf.Bytes())
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want exactly 1", len(cycles))
	}
}
