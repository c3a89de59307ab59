// Package io declares the capabilities a node uses to reach the outside
// world. The engine packages only see these interfaces, never the network,
// DMA engine or event dispatcher behind them.
package io

import "time"

// SpikeSink receives the coordinates of every neuron that fires during an
// update pass.
type SpikeSink interface {
	EmitSpike(x, y, z int)
}

type SpikeSinkFunc func(x, y, z int)

func (f SpikeSinkFunc) EmitSpike(x, y, z int) {
	f(x, y, z)
}

// PixelSource returns the three colour components of an image pixel.
type PixelSource interface {
	Pixel(x, y int) (r, g, b int32)
}

// Fabric is the multicast network. SendMulticast returns false when the
// router rejects the packet under backpressure.
type Fabric interface {
	SendMulticast(key uint32) bool
}

// DMAController moves words from core-local memory to bulk memory. The
// source must stay untouched until the completion for tag is delivered.
type DMAController interface {
	Write(tag uint32, offset int, words []uint32) error
}

// Events schedules the deferred software event.
type Events interface {
	TriggerUserEvent() bool
}

// Platform bundles every capability the scheduler needs from the core it
// runs on.
type Platform interface {
	Fabric
	DMAController
	Events
	Delay(d time.Duration)
	Exit(code int)
}
