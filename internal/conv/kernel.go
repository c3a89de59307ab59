// Package conv implements the convolution engine: a fixed weight kernel
// loaded once at start-up and two ways of driving it. ConvolveSpike fans a
// single input spike out to every output neuron it touches; ConvolveImage
// slides the kernel over a padded RGB image.
package conv

import (
	"errors"
	"fmt"

	"convnode/internal/fixed"
	nodeio "convnode/internal/io"
	"convnode/internal/region"
)

const imageChannels = 3

var ErrInvalidGeometry = errors.New("invalid kernel geometry")

// Applier receives one contribution for output neuron (x, y) of output
// channel k. Coordinates may fall outside the output grid; the receiver
// discards those.
type Applier interface {
	Apply(x, y, k int, value int32)
}

type ApplierFunc func(x, y, k int, value int32)

func (f ApplierFunc) Apply(x, y, k int, value int32) {
	f(x, y, k, value)
}

type Kernel struct {
	size       int
	half       int
	stride     int
	depth      int
	numKernels int
	// one block of size*size*depth weights per output channel
	weights   []int8
	blockSize int
}

func New(numKernels, depth, size, stride int, weights []int8) (*Kernel, error) {
	if size <= 0 || size%2 == 0 {
		return nil, fmt.Errorf("%w: kernel size %d must be odd", ErrInvalidGeometry, size)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("%w: stride %d", ErrInvalidGeometry, stride)
	}
	if numKernels <= 0 || depth <= 0 {
		return nil, fmt.Errorf("%w: %d kernels of depth %d", ErrInvalidGeometry, numKernels, depth)
	}
	blockSize := size * size * depth
	if len(weights) != numKernels*blockSize {
		return nil, fmt.Errorf("%w: got %d weights want %d", ErrInvalidGeometry, len(weights), numKernels*blockSize)
	}
	return &Kernel{
		size:       size,
		half:       size / 2,
		stride:     stride,
		depth:      depth,
		numKernels: numKernels,
		weights:    append([]int8(nil), weights...),
		blockSize:  blockSize,
	}, nil
}

// Load copies the kernel blob out of its region.
func Load(r region.ConvKernelRegion, size, stride int) (*Kernel, error) {
	return New(int(r.NumKernels), int(r.Depth), size, stride, r.Weights)
}

func (k *Kernel) Size() int       { return k.size }
func (k *Kernel) Stride() int     { return k.stride }
func (k *Kernel) Depth() int      { return k.depth }
func (k *Kernel) NumKernels() int { return k.numKernels }

// Bytes is the fast-memory footprint of the weights.
func (k *Kernel) Bytes() int { return len(k.weights) }

// Taps is the most contributions ConvolveSpike makes for one input spike.
// With stride > 1 only taps on the stride grid fire.
func (k *Kernel) Taps() int {
	perAxis := (k.size + k.stride - 1) / k.stride
	return perAxis * perAxis * k.numKernels
}

func (k *Kernel) index(kx, ky, z int) int {
	return kx + k.size*(ky+k.size*z)
}

// Weight returns kernel[channel][ky][kx][z].
func (k *Kernel) Weight(channel, kx, ky, z int) int32 {
	return int32(k.weights[channel*k.blockSize+k.index(kx, ky, z)])
}

// ConvolveSpike applies every kernel tap touched by a spike from input
// neuron (xIn, yIn, zIn). With stride > 1 only taps whose output lands on
// the stride grid contribute and their output coordinates are divided by
// the stride.
func (k *Kernel) ConvolveSpike(xIn, yIn, zIn int, apply Applier) {
	if zIn < 0 || zIn >= k.depth {
		return
	}
	for kx := 0; kx < k.size; kx++ {
		xOut, ok := k.alignOutput(xIn - kx + k.half)
		if !ok {
			continue
		}
		for ky := 0; ky < k.size; ky++ {
			yOut, ok := k.alignOutput(yIn - ky + k.half)
			if !ok {
				continue
			}
			tap := k.index(kx, ky, zIn)
			for channel := 0; channel < k.numKernels; channel++ {
				apply.Apply(xOut, yOut, channel, int32(k.weights[channel*k.blockSize+tap]))
			}
		}
	}
}

func (k *Kernel) alignOutput(v int) (int, bool) {
	if k.stride == 1 {
		return v, true
	}
	if mod := v % k.stride; mod != 0 {
		return 0, false
	}
	return v / k.stride, true
}

// ConvolveImage slides the kernel over every valid top-left position of a
// padded width x height RGB image. The accumulated value of each output
// channel is shifted down by fixedPoint and applied at (imageX/stride,
// imageY/stride); padding makes that the pixel under the kernel centre.
func (k *Kernel) ConvolveImage(width, height int, fixedPoint uint32, apply Applier, pixels nodeio.PixelSource) {
	if k.depth < imageChannels {
		return
	}
	for imageX := 0; imageX+k.size <= width; imageX += k.stride {
		for imageY := 0; imageY+k.size <= height; imageY += k.stride {
			for channel := 0; channel < k.numKernels; channel++ {
				block := k.weights[channel*k.blockSize : (channel+1)*k.blockSize]
				var value int32
				for kx := 0; kx < k.size; kx++ {
					for ky := 0; ky < k.size; ky++ {
						r, g, b := pixels.Pixel(imageX+kx, imageY+ky)
						value = fixed.Smlabb(r, int32(block[k.index(kx, ky, 0)]), value)
						value = fixed.Smlabb(g, int32(block[k.index(kx, ky, 1)]), value)
						value = fixed.Smlabb(b, int32(block[k.index(kx, ky, 2)]), value)
					}
				}
				apply.Apply(imageX/k.stride, imageY/k.stride, channel, fixed.ShiftDown(value, fixedPoint))
			}
		}
	}
}
