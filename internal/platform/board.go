// Package platform drives a node on a discrete-event engine standing in for
// the core's hardware: timer, multicast router, DMA engine and the deferred
// software event.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sarchlab/akita/v4/sim"

	"convnode/internal/node"
	"convnode/internal/recording"
	"convnode/internal/region"
)

const (
	DefaultTimerPeriod = time.Millisecond
	DefaultDMALatency  = time.Microsecond

	// handlerLatency separates events that would otherwise share a
	// timestamp so their order is fixed.
	handlerLatency = time.Nanosecond
)

var ErrUnbounded = errors.New("run has no tick budget and no tick limit")

// Stimulus is an incoming spike delivered during simulation tick Tick,
// before that tick's update pass.
type Stimulus struct {
	Tick uint32
	Key  uint32
}

// OutgoingSpike is a multicast packet the router accepted.
type OutgoingSpike struct {
	Tick uint32
	Key  uint32
}

type Config struct {
	Stimuli []Stimulus
	// Backpressure is the number of times every outgoing packet is rejected
	// before the router accepts it.
	Backpressure int
	// Loopback feeds accepted spikes back into the node's own input.
	Loopback   bool
	DMALatency time.Duration
	// MaxTicks stops a run without a tick budget. Zero means no limit.
	MaxTicks uint32
	Logger   *slog.Logger
	Node     node.Config
}

type Board struct {
	log    *slog.Logger
	engine *sim.SerialEngine
	node   *node.Node
	cfg    Config

	period    time.Duration
	recording *recording.Region

	rejectsLeft int
	userPending bool
	exited      bool
	exitCode    int
	delayed     time.Duration
	ticks       uint32

	outgoing []OutgoingSpike
}

// NewBoard loads a node from img with the board as its platform.
func NewBoard(img *region.Image, cfg Config) (*Board, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DMALatency <= 0 {
		cfg.DMALatency = DefaultDMALatency
	}
	if cfg.Node.Logger == nil {
		cfg.Node.Logger = cfg.Logger
	}

	b := &Board{
		log:         cfg.Logger,
		engine:      sim.NewSerialEngine(),
		cfg:         cfg,
		rejectsLeft: cfg.Backpressure,
	}
	if neuronWords, ok := img.Region(region.Neurons); ok {
		if area := region.RecordingArea(neuronWords); area != nil {
			b.recording = recording.WrapRegion(area)
		}
	}

	n, err := node.New(img, b, cfg.Node)
	if err != nil {
		return nil, err
	}
	system := n.System()
	if !system.Finite() && cfg.MaxTicks == 0 {
		return nil, ErrUnbounded
	}
	b.node = n
	b.period = time.Duration(system.TimerPeriodMicros) * time.Microsecond
	if b.period <= 0 {
		b.period = DefaultTimerPeriod
	}
	return b, nil
}

// Run schedules the first timer tick and every stimulus and runs the engine
// until the node exits.
func (b *Board) Run() error {
	b.engine.Schedule(b.newTimerEvent(1))
	for _, s := range b.cfg.Stimuli {
		at := time.Duration(s.Tick)*b.period + b.period/2
		b.engine.Schedule(&packetEvent{EventBase: sim.NewEventBase(vtime(at), b), key: s.Key})
	}
	if err := b.engine.Run(); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}
	if !b.exited {
		return fmt.Errorf("engine drained before the node exited at tick %d", b.ticks)
	}
	b.log.Debug("board finished", "ticks", b.ticks, "outgoing", len(b.outgoing), "delayed", b.delayed)
	return nil
}

func (b *Board) Node() *node.Node { return b.node }

// Recording is nil when the neuron region reserves no recording area.
func (b *Board) Recording() *recording.Region { return b.recording }

func (b *Board) Outgoing() []OutgoingSpike {
	return append([]OutgoingSpike(nil), b.outgoing...)
}

func (b *Board) Exited() bool           { return b.exited }
func (b *Board) ExitCode() int          { return b.exitCode }
func (b *Board) Delayed() time.Duration { return b.delayed }

func (b *Board) SendMulticast(key uint32) bool {
	if b.rejectsLeft > 0 {
		b.rejectsLeft--
		return false
	}
	b.rejectsLeft = b.cfg.Backpressure
	b.outgoing = append(b.outgoing, OutgoingSpike{Tick: b.node.Tick(), Key: key})
	if b.cfg.Loopback {
		b.schedule(&packetEvent{EventBase: sim.NewEventBase(b.after(handlerLatency), b), key: key})
	}
	return true
}

// Write starts a DMA into the recording area. The words are copied when the
// transfer completes, so the caller must not touch them until then.
func (b *Board) Write(tag uint32, offset int, words []uint32) error {
	if b.recording == nil {
		return errors.New("no recording area")
	}
	if offset < 0 || offset+len(words) > b.recording.Cap() {
		return fmt.Errorf("%w: [%d,%d) of %d", recording.ErrOutOfRange, offset, offset+len(words), b.recording.Cap())
	}
	b.schedule(&dmaDoneEvent{
		EventBase: sim.NewEventBase(b.after(b.cfg.DMALatency), b),
		tag:       tag,
		offset:    offset,
		words:     words,
	})
	return nil
}

func (b *Board) TriggerUserEvent() bool {
	if b.userPending {
		return false
	}
	b.userPending = true
	b.schedule(&userEvent{EventBase: sim.NewEventBase(b.after(handlerLatency), b)})
	return true
}

// Delay accounts busy-wait time; the event clock does not advance inside a
// handler.
func (b *Board) Delay(d time.Duration) {
	b.delayed += d
}

func (b *Board) Exit(code int) {
	b.exited = true
	b.exitCode = code
}

func (b *Board) schedule(e sim.Event) {
	if b.exited {
		return
	}
	b.engine.Schedule(e)
}

func (b *Board) after(d time.Duration) sim.VTimeInSec {
	return b.engine.CurrentTime() + vtime(d)
}

func vtime(d time.Duration) sim.VTimeInSec {
	return sim.VTimeInSec(d.Seconds())
}
