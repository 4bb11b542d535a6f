package receiver

import (
	"log/slog"
	"math"

	"github.com/mfkiwl/corx/internal/dsp"
	"github.com/mfkiwl/corx/internal/sdr"
	"github.com/mfkiwl/corx/internal/spectrum"
)

// recoverCarrier synchronizes to or tracks the carrier for one block. It
// updates locked, the synced signal buffer and the DC measurements.
func (r *Receiver) recoverCarrier(block *sdr.Block) {
	if r.locked {
		r.shiftIntoSynced(block)

		r.prevDCAngle = r.dcAngle
		r.measureDC()

		angleDiff := dsp.NormalizeDeciAngle(r.dcAngle - r.prevDCAngle)

		if float64(angleDiff)*360 > maxTrackingAngleDiffDeg {
			// Tracking loop failed; fall through to re-acquisition.
			r.locked = false
			r.logger.Info("tracking loop failed", slog.Int("block", r.blockIdx))
		} else {
			r.carrierPos += float64(angleDiff) * trackingGain
		}
	}

	if !r.locked {
		det := r.carrierDet.Process(block.Samples)
		r.maybeSnapshot(block)

		if !det.Detected {
			r.logger.Debug("no carrier detected", slog.Int("block", r.blockIdx))
			return
		}

		power := r.carrierDet.Power()
		n := len(power)
		offset := dsp.InterpolatePeak(
			power[(det.Argmax-1+n)%n],
			power[det.Argmax],
			power[(det.Argmax+1)%n])

		r.carrierPos = float64(det.Argmax) + offset
		if r.carrierPos > float64(r.params.BlockLen)/2 {
			r.carrierPos -= float64(r.params.BlockLen)
		}

		r.logger.Info("detected carrier",
			slog.Int("block", r.blockIdx),
			slog.Float64("position", r.carrierPos),
			slog.Float64("peak", det.Peak),
			slog.Float64("noise", det.Noise))

		r.locked = true

		r.shiftIntoSynced(block)
		r.measureDC()
		return
	}

	r.maybeSnapshot(block)
}

// shiftIntoSynced frequency-shifts the raw block by the current carrier
// estimate so the tone sits at DC.
func (r *Receiver) shiftIntoSynced(block *sdr.Block) {
	dsp.FreqShift(r.syncedFFT.In, block.Samples, r.params.BlockLen,
		float32(-r.carrierPos), r.samplePhase)
}

// measureDC computes the DC bin of the synced signal via the time-domain sum.
func (r *Receiver) measureDC() {
	dc := dsp.SumDC(r.syncedFFT.In)
	r.dcAmpl = math.Hypot(float64(real(dc)), float64(imag(dc)))
	r.dcAngle = dsp.Arg(dc)
}

// estimateClockError derives the receiver clock offset from the carrier
// position, assuming the downconverter and ADC share a local oscillator.
func (r *Receiver) estimateClockError() float64 {
	if r.params.TunerFreq == 0 {
		return 0
	}
	carrierHz := r.carrierPos * float64(r.params.SampleRate) / float64(r.params.BlockLen)
	return (carrierHz - r.params.CarrierRef) / r.params.TunerFreq
}

// maybeSnapshot hands a downsampled power spectrum to the diagnostics hook.
// The spectrum is only current on blocks where the carrier detector ran; on
// tracked blocks it is recomputed, so snapshots stay sparse.
func (r *Receiver) maybeSnapshot(block *sdr.Block) {
	if r.spectrumHook == nil || r.spectrumEvery <= 0 || r.blockIdx%r.spectrumEvery != 0 {
		return
	}
	if r.locked {
		// The detector's power buffer is stale while tracking.
		r.carrierDet.Process(block.Samples)
	}

	r.spectrumHook(spectrum.Snapshot{
		Timestamp:  block.Timestamp,
		BlockIdx:   r.blockIdx,
		CarrierPos: r.carrierPos,
		Power:      spectrum.Downsample(r.carrierDet.Power(), r.spectrumBins),
	})
}
