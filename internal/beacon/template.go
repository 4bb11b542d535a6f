package beacon

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// LoadTemplate reads a beacon template from a .tpl file: the pulse waveform
// as consecutive little-endian float32 samples.
func LoadTemplate(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("template %s: size %d is not a whole number of float32 samples", path, len(raw))
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return samples, nil
}
