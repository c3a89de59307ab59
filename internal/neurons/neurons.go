// Package neurons holds the leaky integrate-and-fire state of a core's
// output volume.
//
// Neuron (x, y, z) lives at linear index z + depth*(y + height*x). Both the
// accumulate path and the update pass use that mapping, and the update pass
// visits neurons in exactly that order.
package neurons

import (
	"fmt"

	"convnode/internal/fixed"
	nodeio "convnode/internal/io"
	"convnode/internal/region"
)

type Array struct {
	width     int
	height    int
	depth     int
	threshold int32
	decay     int32
	potential []int16

	recorder   *Recorder
	plasticity IntrinsicPlasticity
}

// New allocates the array described by r. A nil plasticity hook means
// StubPlasticity.
func New(r region.NeuronsRegion, plasticity IntrinsicPlasticity) (*Array, error) {
	if r.Width == 0 || r.Height == 0 || r.Depth == 0 {
		return nil, fmt.Errorf("neuron volume %dx%dx%d is empty", r.Width, r.Height, r.Depth)
	}
	a := &Array{
		width:      int(r.Width),
		height:     int(r.Height),
		depth:      int(r.Depth),
		threshold:  r.Threshold,
		decay:      r.Decay,
		potential:  make([]int16, r.NumNeurons()),
		plasticity: plasticity,
	}
	if a.plasticity == nil {
		a.plasticity = StubPlasticity{}
	}
	if r.Record {
		a.recorder = NewRecorder(len(a.potential))
	}
	return a, nil
}

func (a *Array) Width() int  { return a.width }
func (a *Array) Height() int { return a.height }
func (a *Array) Depth() int  { return a.depth }
func (a *Array) Len() int    { return len(a.potential) }

// Recorder is nil when recording is disabled.
func (a *Array) Recorder() *Recorder {
	return a.recorder
}

func (a *Array) Contains(x, y, z int) bool {
	return x >= 0 && x < a.width && y >= 0 && y < a.height && z >= 0 && z < a.depth
}

func (a *Array) Index(x, y, z int) int {
	return z + a.depth*(y+a.height*x)
}

// Coordinates inverts Index.
func (a *Array) Coordinates(n int) (x, y, z int) {
	z = n % a.depth
	n /= a.depth
	y = n % a.height
	x = n / a.height
	return x, y, z
}

// AddInputCurrent adds current to the neuron's membrane potential. The sum
// wraps like the underlying int16 state. Contributions outside the volume
// are dropped and reported with false.
func (a *Array) AddInputCurrent(x, y, z int, current int32) bool {
	if !a.Contains(x, y, z) {
		return false
	}
	n := a.Index(x, y, z)
	a.potential[n] += int16(current)
	return true
}

func (a *Array) Potential(x, y, z int) int16 {
	return a.potential[a.Index(x, y, z)]
}

// Update runs the once-per-tick threshold, reset and decay pass. Neurons
// strictly above threshold emit a spike, set their recording bit and reset
// to zero; every other neuron decays by (v*decay) >> fixedPoint. It returns
// the number of spikes emitted.
func (a *Array) Update(sink nodeio.SpikeSink, fixedPoint uint32) int {
	spikes := 0
	n := 0
	for x := 0; x < a.width; x++ {
		for y := 0; y < a.height; y++ {
			for z := 0; z < a.depth; z++ {
				v := int32(a.potential[n])
				spiked := v > a.threshold
				if spiked {
					sink.EmitSpike(x, y, z)
					if a.recorder != nil {
						a.recorder.Active().Set(n)
					}
					a.potential[n] = 0
					spikes++
				} else {
					a.potential[n] = int16(fixed.ShiftDown(fixed.Smulbb(v, a.decay), fixedPoint))
				}
				a.plasticity.Adapt(n, spiked)
				n++
			}
		}
	}
	return spikes
}
