package platform

import (
	"fmt"
	"time"

	"github.com/sarchlab/akita/v4/sim"
)

type timerEvent struct {
	*sim.EventBase
	tick uint32
}

type packetEvent struct {
	*sim.EventBase
	key uint32
}

type userEvent struct {
	*sim.EventBase
}

type dmaDoneEvent struct {
	*sim.EventBase
	tag    uint32
	offset int
	words  []uint32
}

func (b *Board) newTimerEvent(tick uint32) *timerEvent {
	at := time.Duration(tick) * b.period
	return &timerEvent{EventBase: sim.NewEventBase(vtime(at), b), tick: tick}
}

// Handle dispatches one hardware event to the node. The serial engine runs
// a single handler at a time.
func (b *Board) Handle(e sim.Event) error {
	if b.exited {
		return nil
	}
	switch e := e.(type) {
	case *timerEvent:
		b.handleTimer(e)
	case *packetEvent:
		b.node.PacketReceived(e.key)
	case *userEvent:
		b.userPending = false
		b.node.UserEvent()
	case *dmaDoneEvent:
		if err := b.recording.Write(e.offset, e.words); err != nil {
			b.log.Error("dma write failed", "tag", e.tag, "error", err)
		}
		b.node.DMATransferDone(e.tag)
	default:
		return fmt.Errorf("unexpected event %T", e)
	}
	return nil
}

func (b *Board) handleTimer(e *timerEvent) {
	b.ticks = e.tick
	if b.cfg.MaxTicks > 0 && e.tick > b.cfg.MaxTicks {
		b.node.Finalise()
		return
	}
	busy := b.delayed
	b.node.TimerTick(e.tick)
	if b.delayed-busy > b.period {
		b.node.TimerOverran()
	}
	b.schedule(b.newTimerEvent(e.tick + 1))
}
