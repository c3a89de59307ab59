package region

import (
	"github.com/pkg/errors"
)

// Forever marks a simulation without a tick budget.
const Forever uint32 = 0xFFFFFFFF

const (
	systemWords  = 6
	neuronWords  = 6
	kernelWords  = 2
	inputWords   = 5
	inputChannel = 3
)

type SystemRegion struct {
	TimerPeriodMicros  uint32
	SimulationTicks    uint32
	ZMask              uint32
	OutputZStart       uint32
	SpikeKey           uint32
	FixedPointPosition uint32
}

func (s SystemRegion) Finite() bool {
	return s.SimulationTicks != Forever
}

type NeuronsRegion struct {
	Width     uint32
	Height    uint32
	Depth     uint32
	Record    bool
	Threshold int32
	Decay     int32
	// RecordingWords is the size of the bulk recording area that follows the
	// neuron header.
	RecordingWords int
}

func (n NeuronsRegion) NumNeurons() int {
	return int(n.Width) * int(n.Height) * int(n.Depth)
}

type ConvKernelRegion struct {
	NumKernels uint32
	Depth      uint32
	// Weights holds NumKernels consecutive blocks of size*size*Depth
	// weights, each block laid out as kx + size*(ky + size*z).
	Weights []int8
}

type InputRegion struct {
	NumImages          uint32
	FixedPointPosition uint32
	Width              uint32
	Height             uint32
	Depth              uint32
	// Pixels is interleaved RGB, row-major in y.
	Pixels []int8
}

func DecodeSystem(words []uint32) (SystemRegion, error) {
	if len(words) < systemWords {
		return SystemRegion{}, errors.Errorf("system region: %d words, need %d", len(words), systemWords)
	}
	return SystemRegion{
		TimerPeriodMicros:  words[0],
		SimulationTicks:    words[1],
		ZMask:              words[2],
		OutputZStart:       words[3],
		SpikeKey:           words[4],
		FixedPointPosition: words[5],
	}, nil
}

func EncodeSystem(s SystemRegion) []uint32 {
	return []uint32{s.TimerPeriodMicros, s.SimulationTicks, s.ZMask, s.OutputZStart, s.SpikeKey, s.FixedPointPosition}
}

func DecodeNeurons(words []uint32) (NeuronsRegion, error) {
	if len(words) < neuronWords {
		return NeuronsRegion{}, errors.Errorf("neurons region: %d words, need %d", len(words), neuronWords)
	}
	n := NeuronsRegion{
		Width:          words[0],
		Height:         words[1],
		Depth:          words[2],
		Record:         words[3] != 0,
		Threshold:      int32(words[4]),
		Decay:          int32(words[5]),
		RecordingWords: len(words) - neuronWords,
	}
	if n.Width == 0 || n.Height == 0 || n.Depth == 0 {
		return NeuronsRegion{}, errors.Errorf("neurons region: empty volume %dx%dx%d", n.Width, n.Height, n.Depth)
	}
	return n, nil
}

// EncodeNeurons writes the neuron header and reserves recordingWords zero
// words of recording area behind it.
func EncodeNeurons(n NeuronsRegion, recordingWords int) []uint32 {
	record := uint32(0)
	if n.Record {
		record = 1
	}
	out := make([]uint32, neuronWords+recordingWords)
	copy(out, []uint32{n.Width, n.Height, n.Depth, record, uint32(n.Threshold), uint32(n.Decay)})
	return out
}

func DecodeConvKernel(words []uint32, kernelSize int) (ConvKernelRegion, error) {
	if len(words) < kernelWords {
		return ConvKernelRegion{}, errors.Errorf("conv kernel region: %d words, need %d", len(words), kernelWords)
	}
	k := ConvKernelRegion{NumKernels: words[0], Depth: words[1]}
	if k.NumKernels == 0 || k.Depth == 0 {
		return ConvKernelRegion{}, errors.Errorf("conv kernel region: %d kernels of depth %d", k.NumKernels, k.Depth)
	}
	if kernelSize <= 0 {
		return ConvKernelRegion{}, errors.Errorf("conv kernel region: kernel size %d", kernelSize)
	}
	blob := words[kernelWords:]
	count, ok := byteCount(len(blob), uint64(k.NumKernels), uint64(kernelSize), uint64(kernelSize), uint64(k.Depth))
	if !ok {
		return ConvKernelRegion{}, errors.Errorf("conv kernel region: %d kernels of %dx%dx%d exceed %d weight bytes",
			k.NumKernels, kernelSize, kernelSize, k.Depth, 4*len(blob))
	}
	weights, err := unpackInt8(blob, count)
	if err != nil {
		return ConvKernelRegion{}, errors.Wrap(err, "conv kernel region weights")
	}
	k.Weights = weights
	return k, nil
}

func EncodeConvKernel(k ConvKernelRegion) []uint32 {
	return append([]uint32{k.NumKernels, k.Depth}, packInt8(k.Weights)...)
}

// DecodeInput returns a region with NumImages zero when the core has no
// static image.
func DecodeInput(words []uint32) (InputRegion, error) {
	if len(words) < 1 {
		return InputRegion{}, errors.New("input region: missing image count")
	}
	in := InputRegion{NumImages: words[0]}
	if in.NumImages == 0 {
		return in, nil
	}
	if len(words) < inputWords {
		return InputRegion{}, errors.Errorf("input region: %d words, need %d", len(words), inputWords)
	}
	in.FixedPointPosition = words[1]
	in.Width = words[2]
	in.Height = words[3]
	in.Depth = words[4]
	if in.Depth != inputChannel {
		return InputRegion{}, errors.Errorf("input region: only %d channel input is supported, got %d", inputChannel, in.Depth)
	}
	blob := words[inputWords:]
	count, ok := byteCount(len(blob), uint64(in.Width), uint64(in.Height), uint64(in.Depth))
	if !ok {
		return InputRegion{}, errors.Errorf("input region: %dx%dx%d image exceeds %d pixel bytes",
			in.Width, in.Height, in.Depth, 4*len(blob))
	}
	pixels, err := unpackInt8(blob, count)
	if err != nil {
		return InputRegion{}, errors.Wrap(err, "input region pixels")
	}
	in.Pixels = pixels
	return in, nil
}

func EncodeInput(in InputRegion) []uint32 {
	if in.NumImages == 0 {
		return []uint32{0}
	}
	out := []uint32{in.NumImages, in.FixedPointPosition, in.Width, in.Height, in.Depth}
	return append(out, packInt8(in.Pixels)...)
}

// RecordingArea returns the bulk recording words that follow the neuron
// header of a raw neurons region.
func RecordingArea(words []uint32) []uint32 {
	if len(words) <= neuronWords {
		return nil
	}
	return words[neuronWords:]
}

// byteCount multiplies region dimensions into a byte count and reports false
// once the product no longer fits the words holding it.
func byteCount(words int, dims ...uint64) (int, bool) {
	limit := 4 * uint64(words)
	n := uint64(1)
	for _, d := range dims {
		if d != 0 && n > limit/d {
			return 0, false
		}
		n *= d
	}
	return int(n), n <= limit
}
