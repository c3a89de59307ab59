package node

import (
	"context"
	"errors"
	"log/slog"

	"convnode/internal/neurons"
	"convnode/internal/stats"
)

// PacketReceived queues an incoming multicast spike and schedules a
// deferred drain if none is outstanding.
func (n *Node) PacketReceived(key uint32) {
	if n.finished {
		return
	}
	if !n.queue.Push(key) {
		n.counters.Inc(stats.InputBufferOverflows)
	} else {
		n.counters.Inc(stats.SpikesReceived)
	}

	if n.busy {
		return
	}
	if n.platform.TriggerUserEvent() {
		n.busy = true
	} else {
		n.counters.Inc(stats.TaskQueueFull)
	}
}

// UserEvent is the deferred drain. Spikes queued while it runs are drained
// too; anything arriving after it returns schedules a new drain.
func (n *Node) UserEvent() {
	if n.finished {
		n.busy = false
		return
	}
	n.state = Draining
	n.drain()
	n.busy = false
	n.state = n.restState()
}

// TimerTick runs one simulation tick. Platform ticks are numbered from 1.
func (n *Node) TimerTick(tick uint32) {
	if n.finished || tick == 0 {
		return
	}
	n.tick = tick - 1
	if n.system.Finite() && n.tick >= n.system.SimulationTicks {
		n.Finalise()
		return
	}

	n.state = Updating
	start := n.profiler.Begin()

	n.drain()
	if n.image != nil {
		n.kernel.ConvolveImage(n.image.Width(), n.image.Height(), n.image.FixedPointPosition(), n.accumulate, n.image)
	}
	n.neurons.Update(n.emit, n.system.FixedPointPosition)
	n.counters.Inc(stats.TicksRun)

	n.profiler.End(start)

	if rec := n.neurons.Recorder(); rec != nil {
		n.state = Recording
		if n.log.Enabled(context.Background(), slog.LevelDebug) {
			n.log.Debug("recorded spikes", "tick", n.tick, "bits", rec.Active().String())
		}
		if err := rec.Transfer(TagRecording, n.platform); err != nil {
			if errors.Is(err, neurons.ErrTransferInFlight) {
				n.counters.Inc(stats.RecordingOverruns)
				n.log.Debug("recording frame dropped", "tick", n.tick)
			} else {
				n.log.Error("recording transfer failed", "tick", n.tick, "error", err)
			}
		}
	}
	n.state = n.restState()
}

// TimerOverran records a tick whose work ran past the next timer event.
func (n *Node) TimerOverran() {
	if n.finished {
		return
	}
	n.counters.Inc(stats.TimerEventOverflows)
	n.log.Debug("timer tick overran", "tick", n.tick)
}

// DMATransferDone completes an asynchronous transfer. Unknown tags are
// logged and otherwise ignored.
func (n *Node) DMATransferDone(tag uint32) {
	rec := n.neurons.Recorder()
	if tag != TagRecording || rec == nil {
		n.counters.Inc(stats.UnknownDMATags)
		n.log.Error("dma transfer done with unknown tag", "tag", tag, "tick", n.tick)
		return
	}
	rec.TransferDone()
	if n.state == Recording {
		n.state = Idle
	}
}

// Finalise flushes statistics and profiling and exits the core. It runs
// once; later calls do nothing.
func (n *Node) Finalise() {
	if n.finished {
		return
	}
	n.finished = true
	n.state = Idle

	if n.statisticsRegion != nil {
		n.counters.Encode(n.statisticsRegion)
	}
	if n.profilerRegion != nil {
		n.profiler.Encode(n.profilerRegion)
	}
	report := Report{
		TicksRun: int(n.counters.Get(stats.TicksRun)),
		Counters: n.counters.Snapshot(),
		Profile:  n.profiler.Summary(),
	}
	n.log.Info("simulation finished",
		"ticks", report.TicksRun,
		"spikes_received", n.counters.Get(stats.SpikesReceived),
		"spikes_emitted", n.counters.Get(stats.SpikesEmitted),
		"input_buffer_overflows", n.counters.Get(stats.InputBufferOverflows))
	if n.report != nil {
		n.report(report)
	}
	n.platform.Exit(0)
}

func (n *Node) drain() {
	for {
		key, ok := n.queue.Pop()
		if !ok {
			return
		}
		x := int(key & 0xFF)
		y := int((key >> 8) & 0xFF)
		z := int((key >> 16) & n.system.ZMask)
		if z >= n.kernel.Depth() {
			n.counters.Inc(stats.DroppedSpikes)
			n.log.Debug("spike outside kernel depth", "key", key, "z", z, "depth", n.kernel.Depth())
			continue
		}
		n.kernel.ConvolveSpike(x, y, z, n.accumulate)
	}
}

func (n *Node) addCurrent(x, y, k int, value int32) {
	if !n.neurons.AddInputCurrent(x, y, k, value) {
		n.counters.Inc(stats.ClippedContributions)
	}
}

// sendSpike retries until the fabric accepts the packet.
func (n *Node) sendSpike(x, y, z int) {
	key := n.SpikeKey(x, y, z)
	for !n.platform.SendMulticast(key) {
		n.counters.Inc(stats.SendRetries)
		n.platform.Delay(sendDelay)
	}
	n.counters.Inc(stats.SpikesEmitted)
}

func (n *Node) restState() State {
	if rec := n.neurons.Recorder(); rec != nil && rec.InFlight() {
		return Recording
	}
	return Idle
}
