// Package node runs one convolutional layer core. A Node owns the spike
// queue, kernel, optional static image, neuron array and statistics of the
// core and exposes the four handlers an external dispatcher calls: packet
// received, deferred user event, timer tick and DMA transfer done.
//
// Handlers are never invoked concurrently. The dispatcher guarantees one
// handler at a time, so Node holds no locks.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"convnode/internal/conv"
	"convnode/internal/input"
	nodeio "convnode/internal/io"
	"convnode/internal/model"
	"convnode/internal/neurons"
	"convnode/internal/queue"
	"convnode/internal/region"
	"convnode/internal/stats"
)

// TagRecording is the DMA tag of the per-tick recording transfer.
const TagRecording uint32 = 0

const (
	DefaultKernelSize   = 3
	DefaultStride       = 1
	DefaultProfileLimit = 4096

	maxCoordinate = 256
	sendDelay     = time.Microsecond
)

var (
	ErrKeyCollision    = errors.New("spike key collides with neuron id bits")
	ErrGeometry        = errors.New("neuron volume does not fit the spike key")
	ErrRecordingBudget = errors.New("recording region too small for the tick budget")
	ErrMissingRegion   = errors.New("required region missing")
)

type State int

const (
	Idle State = iota
	Draining
	Updating
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Updating:
		return "updating"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Report is what a node flushes when it finalises.
type Report struct {
	TicksRun int
	Counters map[string]uint64
	Profile  model.ProfileSummary
}

type Config struct {
	KernelSize    int
	Stride        int
	QueueCapacity int
	ProfileLimit  int
	Logger        *slog.Logger
	Plasticity    neurons.IntrinsicPlasticity
	// Reporter receives the final statistics before the node exits.
	Reporter func(Report)
}

type Node struct {
	log      *slog.Logger
	platform nodeio.Platform
	report   func(Report)

	system   region.SystemRegion
	queue    *queue.Queue
	kernel   *conv.Kernel
	image    *input.Image
	neurons  *neurons.Array
	counters stats.Counters
	profiler *stats.Profiler

	statisticsRegion []uint32
	profilerRegion   []uint32

	state    State
	busy     bool
	tick     uint32
	finished bool

	accumulate conv.ApplierFunc
	emit       nodeio.SpikeSinkFunc
}

// New loads a node from a parsed image. Every error is a fatal load error
// and the node must not be started.
func New(img *region.Image, platform nodeio.Platform, cfg Config) (*Node, error) {
	cfg = withDefaults(cfg)
	n := &Node{
		log:      cfg.Logger,
		platform: platform,
		report:   cfg.Reporter,
		profiler: stats.NewProfiler(cfg.ProfileLimit),
	}
	n.statisticsRegion, _ = img.Region(region.Statistics)
	n.profilerRegion, _ = img.Region(region.Profiler)
	if err := n.load(img, cfg); err != nil {
		n.log.Error("node load failed", "error", err)
		if n.statisticsRegion != nil {
			n.counters.Encode(n.statisticsRegion)
		}
		return nil, err
	}
	n.accumulate = n.addCurrent
	n.emit = n.sendSpike
	return n, nil
}

func withDefaults(cfg Config) Config {
	if cfg.KernelSize == 0 {
		cfg.KernelSize = DefaultKernelSize
	}
	if cfg.Stride == 0 {
		cfg.Stride = DefaultStride
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if cfg.ProfileLimit == 0 {
		cfg.ProfileLimit = DefaultProfileLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (n *Node) load(img *region.Image, cfg Config) error {
	systemWords, ok := img.Region(region.System)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRegion, region.System)
	}
	system, err := region.DecodeSystem(systemWords)
	if err != nil {
		return err
	}
	n.system = system

	neuronWords, ok := img.Region(region.Neurons)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRegion, region.Neurons)
	}
	neuronRegion, err := region.DecodeNeurons(neuronWords)
	if err != nil {
		return err
	}
	if err := checkSpikeKey(system, neuronRegion); err != nil {
		return err
	}
	arr, err := neurons.New(neuronRegion, cfg.Plasticity)
	if err != nil {
		return err
	}
	if rec := arr.Recorder(); rec != nil {
		if !system.Finite() {
			return fmt.Errorf("%w: recording needs a finite tick budget", ErrRecordingBudget)
		}
		need := int(system.SimulationTicks) * rec.Words()
		if need > neuronRegion.RecordingWords {
			return fmt.Errorf("%w: need %d words, have %d", ErrRecordingBudget, need, neuronRegion.RecordingWords)
		}
	}
	n.neurons = arr
	n.log.Info("neurons loaded",
		"width", arr.Width(), "height", arr.Height(), "depth", arr.Depth(),
		"threshold", neuronRegion.Threshold, "decay", neuronRegion.Decay, "record", neuronRegion.Record)

	kernelWords, ok := img.Region(region.ConvKernel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRegion, region.ConvKernel)
	}
	kernelRegion, err := region.DecodeConvKernel(kernelWords, cfg.KernelSize)
	if err != nil {
		return err
	}
	if int(kernelRegion.NumKernels) != arr.Depth() {
		return fmt.Errorf("%d kernels for a neuron volume of depth %d", kernelRegion.NumKernels, arr.Depth())
	}
	kernel, err := conv.Load(kernelRegion, cfg.KernelSize, cfg.Stride)
	if err != nil {
		return err
	}
	n.kernel = kernel
	n.log.Info("conv kernel loaded",
		"kernels", kernel.NumKernels(), "depth", kernel.Depth(), "size", kernel.Size(),
		"stride", kernel.Stride(), "taps", kernel.Taps(), "bytes", kernel.Bytes())

	if inputWords, ok := img.Region(region.Input); ok {
		inputRegion, err := region.DecodeInput(inputWords)
		if err != nil {
			return err
		}
		image, err := input.Load(inputRegion)
		if err != nil {
			return err
		}
		if image != nil && kernel.Depth() < 3 {
			return fmt.Errorf("static image needs a kernel depth of at least 3, got %d", kernel.Depth())
		}
		n.image = image
		if image != nil {
			n.log.Info("input image loaded", "width", image.Width(), "height", image.Height(),
				"fixed_point", image.FixedPointPosition())
		}
	}

	q, err := queue.New(cfg.QueueCapacity)
	if err != nil {
		return err
	}
	n.queue = q
	return nil
}

// checkSpikeKey rejects a key that shares bits with any spike id the
// volume can produce, and volumes whose coordinates do not fit the key.
func checkSpikeKey(system region.SystemRegion, r region.NeuronsRegion) error {
	if r.Width > maxCoordinate || r.Height > maxCoordinate {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrGeometry, r.Width, r.Height, maxCoordinate, maxCoordinate)
	}
	maxZ := uint64(system.OutputZStart) + uint64(r.Depth) - 1
	if maxZ > 0xFFFF {
		return fmt.Errorf("%w: output z %d exceeds 16 bits", ErrGeometry, maxZ)
	}
	idBits := fillBits(uint32(maxZ))<<16 | fillBits(r.Height-1)<<8 | fillBits(r.Width-1)
	if system.SpikeKey&idBits != 0 {
		return fmt.Errorf("%w: key %08x, id bits %08x", ErrKeyCollision, system.SpikeKey, idBits)
	}
	return nil
}

func fillBits(v uint32) uint32 {
	return uint32(1)<<bits.Len32(v) - 1
}

// SpikeKey is the multicast key a spike of neuron (x, y, z) is sent with.
func (n *Node) SpikeKey(x, y, z int) uint32 {
	zOut := n.system.OutputZStart + uint32(z)
	return n.system.SpikeKey | zOut<<16 | uint32(y)<<8 | uint32(x)
}

func (n *Node) State() State                  { return n.state }
func (n *Node) Tick() uint32                  { return n.tick }
func (n *Node) Finished() bool                { return n.finished }
func (n *Node) Neurons() *neurons.Array       { return n.neurons }
func (n *Node) Kernel() *conv.Kernel          { return n.kernel }
func (n *Node) System() region.SystemRegion   { return n.system }
func (n *Node) Counter(w stats.Word) uint64   { return n.counters.Get(w) }
func (n *Node) Counters() map[string]uint64   { return n.counters.Snapshot() }
func (n *Node) Profile() model.ProfileSummary { return n.profiler.Summary() }
func (n *Node) QueueLen() int                 { return n.queue.Len() }
func (n *Node) HasImage() bool                { return n.image != nil }
