package sdr

import "time"

// Block is one window of complex baseband samples handed to the pipeline.
// Successive blocks overlap by the source's history length: a source with
// block length B and history H advances by B-H fresh samples per step, so the
// first non-overlap sample of block k sits at stream index k*(B-H).
type Block struct {
	// Index is the number of blocks read before this one.
	Index int

	// Timestamp is the wall-clock time at which the last sample of the
	// block was read.
	Timestamp time.Time

	// Samples holds the block contents. The slice is owned by the source
	// and only valid until the next call to Next.
	Samples []complex64
}

// Config describes the framing and tuner settings shared by all sources.
type Config struct {
	SampleRate  int     `yaml:"sampleRate"`
	BlockLen    int     `yaml:"blockLen"`
	HistoryLen  int     `yaml:"historyLen"`
	CenterFreq  uint32  `yaml:"centerFreq"`
	Gain        float64 `yaml:"gain"`       // tuner gain in dB, 0 selects AGC
	SkipBlocks  int     `yaml:"skipBlocks"` // blocks to discard at startup
	FreqCorrPPM int     `yaml:"freqCorrPPM"`
}

// Stride returns the number of fresh samples per block.
func (c Config) Stride() int { return c.BlockLen - c.HistoryLen }
