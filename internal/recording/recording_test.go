package recording

import (
	"errors"
	"testing"

	"convnode/internal/bitfield"
)

func TestRegionWriteIsBounded(t *testing.T) {
	r := NewRegion(4)
	if err := r.Write(2, []uint32{7, 8}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r.Written() != 4 || r.Words()[3] != 8 {
		t.Fatalf("unexpected region: written=%d words=%v", r.Written(), r.Words())
	}
	if err := r.Write(3, []uint32{1, 2}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if r.Cap() != 4 {
		t.Fatalf("region must not grow, cap=%d", r.Cap())
	}
}

func TestFramesCopiesPerTick(t *testing.T) {
	r := WrapRegion([]uint32{1, 2, 3, 4, 5, 6})
	frames, err := Frames(r, 2, 3)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if len(frames) != 3 || frames[1].Tick != 1 || frames[1].Words[0] != 3 || frames[1].Words[1] != 4 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	frames[0].Words[0] = 99
	if r.Words()[0] != 1 {
		t.Fatal("frames must not alias the region")
	}
	if _, err := Frames(r, 2, 4); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestDecodeMapsBitsToCoordinates(t *testing.T) {
	const width, height, depth = 3, 2, 2
	tick0 := bitfield.New(width * height * depth)
	tick1 := bitfield.New(width * height * depth)
	// (x=1, y=0, z=1) -> 1 + 2*(0 + 2*1) = 5
	tick0.Set(5)
	// (x=2, y=1, z=0) -> 0 + 2*(1 + 2*2) = 10
	tick1.Set(10)
	tick1.Set(0)

	r := NewRegion(2)
	if err := r.Write(0, tick0.Words()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Write(1, tick1.Words()); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames, err := Frames(r, 1, 2)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}

	spikes, err := Decode(frames, width, height, depth)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	shape := spikes.Shape()
	if len(shape) != 4 || shape[0] != 2 || shape[1] != width || shape[2] != height || shape[3] != depth {
		t.Fatalf("unexpected shape %v", shape)
	}

	checks := []struct {
		t, x, y, z int
		want       uint8
	}{
		{0, 1, 0, 1, 1},
		{0, 0, 0, 0, 0},
		{1, 2, 1, 0, 1},
		{1, 0, 0, 0, 1},
		{1, 1, 0, 1, 0},
	}
	for _, c := range checks {
		v, err := spikes.At(c.t, c.x, c.y, c.z)
		if err != nil {
			t.Fatalf("at %+v: %v", c, err)
		}
		if v.(uint8) != c.want {
			t.Fatalf("spike at %+v = %v, want %d", c, v, c.want)
		}
	}

	counts := Count(spikes)
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestDecodeIgnoresPaddingBits(t *testing.T) {
	frames, err := Frames(WrapRegion([]uint32{0xFFFFFFFF}), 1, 1)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	spikes, err := Decode(frames, 2, 2, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts := Count(spikes); counts[0] != 4 {
		t.Fatalf("expected 4 spikes, got %v", counts)
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	frames, err := Frames(WrapRegion([]uint32{0}), 1, 1)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if _, err := Decode(frames, 8, 8, 1); err == nil {
		t.Fatal("expected short frame error")
	}
}
