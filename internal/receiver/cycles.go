package receiver

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/mfkiwl/corx/internal/corx"
	"github.com/mfkiwl/corx/internal/dsp"
	"github.com/mfkiwl/corx/internal/sdr"
)

// closeCycleOnError resets the cycle state and makes a best-effort attempt
// to terminate the open cycle before a fatal error propagates, so the trace
// stays parseable and every cycle start has a matching stop.
func (r *Receiver) closeCycleOnError(err error) error {
	if r.cycle >= 0 {
		r.cycle = -1
		_ = r.writer.WriteCycleStop()
	}
	return err
}

// findBeacon runs the matched filter over the synced block and, on a
// detection, anchors a new capture cycle.
func (r *Receiver) findBeacon(block *sdr.Block) error {
	r.syncedFFT.Execute()

	// The fixed const+snr threshold ignores signal energy; passed as zero.
	corr := r.corrDet.Detect(r.syncedFFT.Out, 0)
	if !corr.Detected {
		return nil
	}

	stride := float64(r.params.stride())
	r.prevSOA = r.soa
	r.soa = stride*float64(r.blockIdx) + float64(corr.PeakIdx) + corr.PeakOffset
	timeStep := (r.soa - r.prevSOA) / float64(r.params.SampleRate)

	if r.beaconCount > 0 && timeStep > 1.5*r.params.BeaconInterval {
		// Missed one or more pulses; infer the beacon index from the
		// sample index.
		r.logger.Info("missed beacon pulses", slog.Float64("timeStep", timeStep))
		r.beaconCount += int(math.Round(timeStep))
	} else {
		r.beaconCount++
	}

	r.clockError = r.estimateClockError()

	r.logger.Info("beacon accepted",
		slog.Int("beacon", r.beaconCount),
		slog.Int("block", r.blockIdx),
		slog.Float64("soa", r.soa),
		slog.Float64("timeStep", timeStep),
		slog.Float64("ppm", r.clockError*1e6))

	r.cycle = 0
	r.numPhaseErrors = 0

	if r.beaconCount == 0 {
		captureBlocks := func(seconds float64) int {
			return int(seconds * float64(r.params.SampleRate) / float64(r.params.stride()))
		}
		r.lastBlock = r.blockIdx + captureBlocks(r.params.MaxCaptureTime+r.params.PreampOffTime)
		r.preampOffBlock = r.blockIdx + captureBlocks(r.params.MaxCaptureTime)

		r.logger.Info("first beacon found",
			slog.Int("block", r.blockIdx),
			slog.Float64("captureTime", r.params.MaxCaptureTime+r.params.PreampOffTime),
			slog.Int("lastBlock", r.lastBlock))
	}

	header := corx.BeaconHeader{
		SOA:              r.soa,
		TimestampSec:     uint64(block.Timestamp.Unix()),
		TimestampMsec:    uint16(block.Timestamp.Nanosecond() / 1e6),
		BeaconAmplitude:  uint32(math.Sqrt(corr.PeakPower)),
		BeaconNoise:      uint32(math.Sqrt(corr.NoisePower)),
		ClockError:       float32(r.clockError),
		CarrierPos:       float32(r.carrierPos),
		CarrierAmplitude: uint32(r.dcAmpl),
		PreampOn:         true,
	}
	if err := r.writer.WriteCycleStart(header); err != nil {
		return r.closeCycleOnError(fmt.Errorf("writing beacon header: %w", err))
	}

	if r.beaconHook != nil {
		r.beaconHook(BeaconEvent{
			Timestamp:        block.Timestamp,
			BlockIdx:         r.blockIdx,
			BeaconCount:      r.beaconCount,
			SOA:              r.soa,
			ClockError:       r.clockError,
			CarrierPos:       r.carrierPos,
			CarrierAmplitude: r.dcAmpl,
			BeaconAmplitude:  math.Sqrt(corr.PeakPower),
			BeaconNoise:      math.Sqrt(corr.NoisePower),
			PreampOn:         true,
		})
	}

	return nil
}

// captureNoise handles blocks past the preamp switch-off: the signal keeps
// being shifted by the frozen carrier estimate, and cycles are extracted
// under a zero-amplitude beacon header.
func (r *Receiver) captureNoise(block *sdr.Block) error {
	r.shiftIntoSynced(block)

	if r.cycle == -1 {
		r.logger.Info("noise capture: next cycle", slog.Int("block", r.blockIdx))

		// Anchor reset: the noise cycle starts at the block boundary, with
		// no correlation offset.
		r.soa = float64(r.params.stride()) * float64(r.blockIdx)
		r.cycle = 0
		r.numPhaseErrors = 0

		header := corx.BeaconHeader{
			SOA:              r.soa,
			TimestampSec:     uint64(block.Timestamp.Unix()),
			TimestampMsec:    uint16(block.Timestamp.Nanosecond() / 1e6),
			BeaconAmplitude:  0,
			BeaconNoise:      0,
			ClockError:       float32(r.clockError),
			CarrierPos:       float32(r.carrierPos),
			CarrierAmplitude: 0,
			PreampOn:         false,
		}
		if err := r.writer.WriteCycleStart(header); err != nil {
			return r.closeCycleOnError(fmt.Errorf("writing noise cycle header: %w", err))
		}

		if r.beaconHook != nil {
			r.beaconHook(BeaconEvent{
				Timestamp:   block.Timestamp,
				BlockIdx:    r.blockIdx,
				BeaconCount: r.beaconCount,
				SOA:         r.soa,
				ClockError:  r.clockError,
				CarrierPos:  r.carrierPos,
				PreampOn:    false,
			})
		}
	}

	return r.extractCorrBlocks()
}

// extractCorrBlocks slices the synced block into correlation windows, FFTs
// each and writes the phase-corrected spectra. Cycles extending past the end
// of the block are left for subsequent calls.
func (r *Receiver) extractCorrBlocks() error {
	w := r.params.CorrSize
	stride := float64(r.params.stride())

	for ; r.cycle < r.numCycles; r.cycle++ {
		// Fractional index of the first window sample within this block.
		start := r.soa +
			float64(r.params.SkipBeaconPadding+r.cycle*w)*(1-r.clockError) -
			float64(r.blockIdx)*stride
		startIdx := int(math.Round(start))

		if startIdx+w > r.params.BlockLen {
			// The remaining cycles lie in future blocks.
			break
		}
		if startIdx < 0 {
			// The window slid out of the buffer before extraction could
			// run; nothing to recover.
			r.logger.Warn("correlation window missed",
				slog.Int("block", r.blockIdx),
				slog.Int("cycle", r.cycle))
			continue
		}

		copy(r.corrFFT.In, r.syncedFFT.In[startIdx:startIdx+w])
		r.corrFFT.Execute()

		// Correct for the fractional-sample time offset and the residual
		// carrier phase.
		carrierOffset := int(math.Round(-r.carrierPos * float64(w) / float64(r.params.BlockLen)))
		dsp.FFTShift(r.correctedFFT, r.corrFFT.Out, w,
			float32(start-float64(startIdx)),
			-dsp.DeciAngle(r.avgDCAngle),
			carrierOffset)

		phaseErr := dsp.Arg(r.correctedFFT[0])
		if math.Abs(float64(phaseErr)) > 0.2 {
			r.numPhaseErrors++
		}

		err := r.writer.WriteCycleBlock(quantizePhaseError(phaseErr),
			r.correctedFFT[r.params.SliceStart:r.params.SliceStart+r.params.SliceLen])
		if err != nil {
			return r.closeCycleOnError(fmt.Errorf("writing cycle block: %w", err))
		}
	}

	if r.cycle >= r.numCycles {
		r.cycle = -1
		if err := r.writer.WriteCycleStop(); err != nil {
			return fmt.Errorf("closing cycle: %w", err)
		}
		if r.numPhaseErrors > 0 {
			r.logger.Warn("correlation blocks with large phase error",
				slog.Int("beacon", r.beaconCount),
				slog.Int("errors", r.numPhaseErrors),
				slog.Int("cycles", r.numCycles))
		}
	}

	return nil
}

// quantizePhaseError maps a phase error in turns onto a signed byte with
// half a turn at full scale. -128 is reserved for the cycle terminator and
// never produced.
func quantizePhaseError(err dsp.DeciAngle) int8 {
	q := math.Round(float64(err) / 0.5 * 127)
	if q < -127 {
		q = -127
	} else if q > 127 {
		q = 127
	}
	return int8(q)
}
