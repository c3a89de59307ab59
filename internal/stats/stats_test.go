package stats

import (
	"testing"
	"time"
)

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.Inc(InputBufferOverflows)
	c.Add(SpikesEmitted, 3)
	c.Set(TicksRun, 9)

	snap := c.Snapshot()
	if snap["input_buffer_overflows"] != 1 || snap["spikes_emitted"] != 3 || snap["ticks_run"] != 9 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap) != len(Names()) {
		t.Fatalf("snapshot has %d words, names has %d", len(snap), len(Names()))
	}
	if Word(99).String() != "unknown" {
		t.Fatal("expected unknown word name")
	}
}

func TestProfilerSummary(t *testing.T) {
	p := NewProfiler(2)
	base := time.Unix(0, 0)
	clock := base
	p.now = func() time.Time { return clock }

	for _, d := range []time.Duration{10 * time.Microsecond, 30 * time.Microsecond, time.Second} {
		start := p.Begin()
		clock = clock.Add(d)
		p.End(start)
	}

	got := p.Summary()
	if got.Samples != 2 {
		t.Fatalf("expected sample limit to apply, got %d", got.Samples)
	}
	if got.MinMicros != 10 || got.MaxMicros != 30 || got.MeanMicros != 20 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestProfilerEmptySummary(t *testing.T) {
	if got := NewProfiler(0).Summary(); got.Samples != 0 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestCountersEncodeDecode(t *testing.T) {
	var c Counters
	c.Add(SendRetries, 4)
	c.Inc(UnknownDMATags)

	words := make([]uint32, 16)
	if n := c.Encode(words); n != len(Names()) {
		t.Fatalf("expected %d words, wrote %d", len(Names()), n)
	}
	decoded := DecodeCounters(words)
	if decoded["send_retries"] != 4 || decoded["unknown_dma_tags"] != 1 || decoded["ticks_run"] != 0 {
		t.Fatalf("unexpected decoded counters: %+v", decoded)
	}

	short := make([]uint32, 2)
	if n := c.Encode(short); n != 2 {
		t.Fatalf("expected truncated encode, wrote %d", n)
	}
}

func TestProfilerEncode(t *testing.T) {
	p := NewProfiler(0)
	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }
	for _, d := range []time.Duration{5 * time.Microsecond, 7 * time.Microsecond, 9 * time.Microsecond} {
		start := p.Begin()
		clock = clock.Add(d)
		p.End(start)
	}

	words := make([]uint32, 3)
	if n := p.Encode(words); n != 3 {
		t.Fatalf("expected 3 words, wrote %d", n)
	}
	if words[0] != 2 || words[1] != 5 || words[2] != 7 {
		t.Fatalf("unexpected profiler words: %v", words)
	}
}
