package sdr

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// SourceError is a fatal source failure carrying the numeric code reported
// as the process exit status.
type SourceError struct {
	Code int
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error (code %d): %s", e.Code, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Source produces overlapped IQ blocks. Implementations are pull-driven: each
// Next reads exactly one block synchronously. Cancel is the only method that
// may be called from another goroutine or a signal context; it must do no
// more than flip a flag observed by the next read.
type Source interface {
	Start() error
	Next() bool
	Cancel()
	Data() *Block
	Err() error
	PrintStats(w io.Writer)
	SetBiasTee(on bool) bool
}

// framer turns a stream of fresh samples into overlapped blocks and keeps
// the read statistics every source reports. The embedding source fills the
// slice returned by begin with new samples, then calls commit.
type framer struct {
	block  Block
	stride int

	cancelled atomic.Bool
	err       error

	started     time.Time
	blocksRead  int64
	samplesRead int64
}

func newFramer(blockLen, historyLen int) framer {
	return framer{
		block:  Block{Index: -1, Samples: make([]complex64, blockLen)},
		stride: blockLen - historyLen,
	}
}

// begin prepares the block buffer for the next read and returns the slice to
// be filled with fresh samples: the whole buffer on the very first read, the
// tail after the history has been shifted down on every later one. Block k
// then holds stream samples [k*stride, k*stride+blockLen).
func (f *framer) begin() []complex64 {
	if f.block.Index < 0 {
		return f.block.Samples
	}
	copy(f.block.Samples, f.block.Samples[f.stride:])
	return f.block.Samples[len(f.block.Samples)-f.stride:]
}

func (f *framer) commit(n int) {
	f.block.Index++
	f.block.Timestamp = time.Now()
	f.blocksRead++
	f.samplesRead += int64(n)
}

func (f *framer) Data() *Block { return &f.block }

func (f *framer) Cancel() { f.cancelled.Store(true) }

func (f *framer) Err() error { return f.err }

func (f *framer) PrintStats(w io.Writer) {
	elapsed := time.Since(f.started)
	rate := float64(f.samplesRead) / elapsed.Seconds()
	fmt.Fprintf(w, "read %s blocks (%s samples) in %s (%s samples/s)\n",
		humanize.Comma(f.blocksRead),
		humanize.Comma(f.samplesRead),
		elapsed.Round(time.Millisecond),
		humanize.SIWithDigits(rate, 2, ""))
}
