// Package recording holds the bulk-memory area a node streams its per-tick
// spike bitfields into, and turns that area back into spike volumes.
package recording

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"convnode/internal/bitfield"
	"convnode/internal/model"
)

var ErrOutOfRange = errors.New("recording write out of range")

// Region is a fixed-capacity word area. It never grows.
type Region struct {
	words []uint32
	high  int
}

func NewRegion(capacity int) *Region {
	return &Region{words: make([]uint32, capacity)}
}

// WrapRegion uses words as the backing area.
func WrapRegion(words []uint32) *Region {
	return &Region{words: words}
}

func (r *Region) Cap() int { return len(r.words) }

// Written is one past the highest word offset ever written.
func (r *Region) Written() int { return r.high }

func (r *Region) Words() []uint32 { return r.words }

func (r *Region) Write(offset int, words []uint32) error {
	end := offset + len(words)
	if offset < 0 || end > len(r.words) {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, offset, end, len(r.words))
	}
	copy(r.words[offset:end], words)
	r.high = max(r.high, end)
	return nil
}

// Frames splits the first ticks frames of wordsPerTick words out of the
// region. Each frame is a copy.
func Frames(r *Region, wordsPerTick, ticks int) ([]model.RecordingFrame, error) {
	if wordsPerTick <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", wordsPerTick)
	}
	if ticks*wordsPerTick > r.Cap() {
		return nil, fmt.Errorf("%w: %d frames of %d words exceed %d", ErrOutOfRange, ticks, wordsPerTick, r.Cap())
	}
	frames := make([]model.RecordingFrame, 0, ticks)
	for tick := 0; tick < ticks; tick++ {
		start := tick * wordsPerTick
		frames = append(frames, model.RecordingFrame{
			Tick:  tick,
			Words: append([]uint32(nil), r.words[start:start+wordsPerTick]...),
		})
	}
	return frames, nil
}

// Decode expands recorded frames into a ticks x width x height x depth
// tensor of 0/1 spike flags. Bit n of a frame is neuron
// z + depth*(y + height*x); padding bits past the volume are ignored.
func Decode(frames []model.RecordingFrame, width, height, depth int) (*tensor.Dense, error) {
	neurons := width * height * depth
	if neurons <= 0 {
		return nil, fmt.Errorf("invalid volume %dx%dx%d", width, height, depth)
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames to decode")
	}
	wordsPerTick := bitfield.WordSize(neurons)

	backing := make([]uint8, len(frames)*neurons)
	for t, frame := range frames {
		if len(frame.Words) < wordsPerTick {
			return nil, fmt.Errorf("frame %d has %d words, need %d", frame.Tick, len(frame.Words), wordsPerTick)
		}
		base := t * neurons
		for n := 0; n < neurons; n++ {
			if frame.Words[n/bitfield.WordBits]&(1<<(uint(n)%bitfield.WordBits)) != 0 {
				backing[base+n] = 1
			}
		}
	}
	return tensor.New(tensor.WithShape(len(frames), width, height, depth), tensor.WithBacking(backing)), nil
}

// Count sums the spikes in a decoded tensor per tick.
func Count(spikes *tensor.Dense) []int {
	shape := spikes.Shape()
	if len(shape) == 0 {
		return nil
	}
	data := spikes.Data().([]uint8)
	per := len(data) / shape[0]
	counts := make([]int, shape[0])
	for t := range counts {
		for _, v := range data[t*per : (t+1)*per] {
			counts[t] += int(v)
		}
	}
	return counts
}
