package stats

import "sort"

// Word names one statistics counter of a node.
type Word int

const (
	InputBufferOverflows Word = iota
	TaskQueueFull
	TimerEventOverflows
	SpikesReceived
	SpikesEmitted
	SendRetries
	ClippedContributions
	RecordingOverruns
	UnknownDMATags
	TicksRun
	DroppedSpikes
	wordMax
)

var wordNames = [wordMax]string{
	InputBufferOverflows: "input_buffer_overflows",
	TaskQueueFull:        "task_queue_full",
	TimerEventOverflows:  "timer_event_overflows",
	SpikesReceived:       "spikes_received",
	SpikesEmitted:        "spikes_emitted",
	SendRetries:          "send_retries",
	ClippedContributions: "clipped_contributions",
	RecordingOverruns:    "recording_overruns",
	UnknownDMATags:       "unknown_dma_tags",
	TicksRun:             "ticks_run",
	DroppedSpikes:        "dropped_spikes",
}

func (w Word) String() string {
	if w < 0 || w >= wordMax {
		return "unknown"
	}
	return wordNames[w]
}

type Counters struct {
	words [wordMax]uint64
}

func (c *Counters) Inc(w Word) {
	c.words[w]++
}

func (c *Counters) Add(w Word, n uint64) {
	c.words[w] += n
}

func (c *Counters) Set(w Word, v uint64) {
	c.words[w] = v
}

func (c *Counters) Get(w Word) uint64 {
	return c.words[w]
}

func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, wordMax)
	for w := Word(0); w < wordMax; w++ {
		out[w.String()] = c.words[w]
	}
	return out
}

// Names lists every counter name in a stable order.
func Names() []string {
	names := make([]string, 0, wordMax)
	for w := Word(0); w < wordMax; w++ {
		names = append(names, w.String())
	}
	sort.Strings(names)
	return names
}

// Encode writes the counters into a statistics region, one word per counter
// in Word order, and returns the number of words written.
func (c *Counters) Encode(words []uint32) int {
	n := min(len(words), int(wordMax))
	for i := 0; i < n; i++ {
		words[i] = uint32(c.words[i])
	}
	return n
}

// DecodeCounters reads a statistics region written by Encode.
func DecodeCounters(words []uint32) map[string]uint64 {
	out := make(map[string]uint64, wordMax)
	for w := Word(0); w < wordMax && int(w) < len(words); w++ {
		out[w.String()] = uint64(words[w])
	}
	return out
}
