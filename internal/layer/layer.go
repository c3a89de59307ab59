// Package layer describes a convolutional layer in floating point and
// quantises it into the region image a node is loaded from.
package layer

import (
	"errors"
	"fmt"
	"math"

	"convnode/internal/bitfield"
	"convnode/internal/fixed"
	"convnode/internal/region"
)

const (
	weightBits    = 8
	potentialBits = 32
	pixelBits     = 8

	DefaultTimerPeriodMicros = 1000
	DefaultZMask             = 0xFF
	// statisticsWords leaves room for every counter.
	statisticsWords = 16
)

var ErrInvalidLayer = errors.New("invalid layer")

// Layer is one core's slice of a convolutional layer.
type Layer struct {
	Width     int
	Height    int
	Threshold float64
	Decay     float64
	Record    bool

	KernelSize int
	Stride     int
	// Weights is indexed [kernel][z][ky][kx]. The number of kernels is the
	// depth of the output volume.
	Weights [][][][]float64

	// Image is an optional static RGB input indexed [y][x].
	Image [][][3]float64

	TimerPeriodMicros uint32
	SimulationTicks   uint32
	SpikeKey          uint32
	ZMask             uint32
	OutputZStart      uint32
	// ProfileSamples reserves a profiler region of that many samples.
	ProfileSamples int
}

func (l Layer) Depth() int { return len(l.Weights) }

func (l Layer) KernelDepth() int {
	if len(l.Weights) == 0 {
		return 0
	}
	return len(l.Weights[0])
}

func (l Layer) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("%w: output %dx%d", ErrInvalidLayer, l.Width, l.Height)
	}
	if l.KernelSize <= 0 || l.KernelSize%2 == 0 {
		return fmt.Errorf("%w: kernel size %d must be odd", ErrInvalidLayer, l.KernelSize)
	}
	if l.Stride <= 0 {
		return fmt.Errorf("%w: stride %d", ErrInvalidLayer, l.Stride)
	}
	if l.Depth() == 0 {
		return fmt.Errorf("%w: no kernels", ErrInvalidLayer)
	}
	depth := l.KernelDepth()
	for k, kernel := range l.Weights {
		if len(kernel) != depth || depth == 0 {
			return fmt.Errorf("%w: kernel %d has depth %d, want %d", ErrInvalidLayer, k, len(kernel), depth)
		}
		for z, plane := range kernel {
			if len(plane) != l.KernelSize {
				return fmt.Errorf("%w: kernel %d plane %d has %d rows", ErrInvalidLayer, k, z, len(plane))
			}
			for ky, row := range plane {
				if len(row) != l.KernelSize {
					return fmt.Errorf("%w: kernel %d plane %d row %d has %d taps", ErrInvalidLayer, k, z, ky, len(row))
				}
			}
		}
	}
	if l.Image != nil {
		if depth < 3 {
			return fmt.Errorf("%w: static image needs kernel depth 3, got %d", ErrInvalidLayer, depth)
		}
		if len(l.Image) == 0 {
			return fmt.Errorf("%w: empty image", ErrInvalidLayer)
		}
		width := len(l.Image[0])
		for y, row := range l.Image {
			if len(row) != width || width == 0 {
				return fmt.Errorf("%w: image row %d has %d pixels", ErrInvalidLayer, y, len(row))
			}
		}
	}
	if l.Record && l.SimulationTicks == region.Forever {
		return fmt.Errorf("%w: recording needs a finite tick budget", ErrInvalidLayer)
	}
	return nil
}

// FixedPointPosition is the fractional bit count weights, threshold and
// decay are quantised with. It is chosen so the largest weight fits a
// signed byte.
func (l Layer) FixedPointPosition() int {
	maxAbs := 0.0
	for _, kernel := range l.Weights {
		for _, plane := range kernel {
			for _, row := range plane {
				for _, w := range row {
					maxAbs = math.Max(maxAbs, math.Abs(w))
				}
			}
		}
	}
	return fixed.FixedPointFor(maxAbs, weightBits)
}

func (l Layer) imageFixedPointPosition() int {
	maxAbs := 0.0
	for _, row := range l.Image {
		for _, px := range row {
			for _, c := range px {
				maxAbs = math.Max(maxAbs, math.Abs(c))
			}
		}
	}
	return fixed.FixedPointFor(maxAbs, pixelBits)
}

// RecordingWords is the bulk recording area the layer needs.
func (l Layer) RecordingWords() int {
	if !l.Record {
		return 0
	}
	return int(l.SimulationTicks) * bitfield.WordSize(l.Width*l.Height*l.Depth())
}

// Build quantises the layer into a node image.
func (l Layer) Build() ([]uint32, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	fp := l.FixedPointPosition()
	if fp < 0 {
		return nil, fmt.Errorf("%w: weights too large for %d-bit fixed point", ErrInvalidLayer, weightBits)
	}

	timerPeriod := l.TimerPeriodMicros
	if timerPeriod == 0 {
		timerPeriod = DefaultTimerPeriodMicros
	}
	zMask := l.ZMask
	if zMask == 0 {
		zMask = DefaultZMask
	}

	regions := map[region.ID][]uint32{
		region.System: region.EncodeSystem(region.SystemRegion{
			TimerPeriodMicros:  timerPeriod,
			SimulationTicks:    l.SimulationTicks,
			ZMask:              zMask,
			OutputZStart:       l.OutputZStart,
			SpikeKey:           l.SpikeKey,
			FixedPointPosition: uint32(fp),
		}),
		region.Neurons: region.EncodeNeurons(region.NeuronsRegion{
			Width:     uint32(l.Width),
			Height:    uint32(l.Height),
			Depth:     uint32(l.Depth()),
			Record:    l.Record,
			Threshold: fixed.ToFix(l.Threshold, fp, potentialBits),
			Decay:     fixed.ToFix(l.Decay, fp, potentialBits),
		}, l.RecordingWords()),
		region.ConvKernel: region.EncodeConvKernel(region.ConvKernelRegion{
			NumKernels: uint32(l.Depth()),
			Depth:      uint32(l.KernelDepth()),
			Weights:    l.quantisedWeights(fp),
		}),
		region.Input:      region.EncodeInput(l.inputRegion()),
		region.Statistics: make([]uint32, statisticsWords),
	}
	if l.ProfileSamples > 0 {
		regions[region.Profiler] = make([]uint32, l.ProfileSamples+1)
	}
	return region.Build(regions), nil
}

// quantisedWeights lays kernels out back to back, each as
// kx + size*(ky + size*z).
func (l Layer) quantisedWeights(fp int) []int8 {
	size := l.KernelSize
	block := size * size * l.KernelDepth()
	out := make([]int8, 0, block*l.Depth())
	for _, kernel := range l.Weights {
		for _, plane := range kernel {
			for _, row := range plane {
				for _, w := range row {
					out = append(out, int8(fixed.ToFix(w, fp, weightBits)))
				}
			}
		}
	}
	return out
}

func (l Layer) inputRegion() region.InputRegion {
	if l.Image == nil {
		return region.InputRegion{}
	}
	fp := l.imageFixedPointPosition()
	if fp < 0 {
		fp = 0
	}
	height := len(l.Image)
	width := len(l.Image[0])
	pixels := make([]int8, 0, width*height*3)
	for _, row := range l.Image {
		for _, px := range row {
			for _, c := range px {
				pixels = append(pixels, int8(fixed.ToFix(c, fp, pixelBits)))
			}
		}
	}
	return region.InputRegion{
		NumImages:          1,
		FixedPointPosition: uint32(fp),
		Width:              uint32(width),
		Height:             uint32(height),
		Depth:              3,
		Pixels:             pixels,
	}
}
