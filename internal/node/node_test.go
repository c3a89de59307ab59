package node

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"convnode/internal/region"
	"convnode/internal/stats"
)

type dmaWrite struct {
	tag    uint32
	offset int
	words  []uint32
}

type fakePlatform struct {
	sent        []uint32
	rejections  int
	delays      []time.Duration
	triggers    int
	triggerFail bool
	writes      []dmaWrite
	dmaErr      error
	exitCode    int
	exited      bool
}

func (p *fakePlatform) SendMulticast(key uint32) bool {
	if p.rejections > 0 {
		p.rejections--
		return false
	}
	p.sent = append(p.sent, key)
	return true
}

func (p *fakePlatform) Write(tag uint32, offset int, words []uint32) error {
	if p.dmaErr != nil {
		return p.dmaErr
	}
	p.writes = append(p.writes, dmaWrite{tag: tag, offset: offset, words: append([]uint32(nil), words...)})
	return nil
}

func (p *fakePlatform) TriggerUserEvent() bool {
	if p.triggerFail {
		return false
	}
	p.triggers++
	return true
}

func (p *fakePlatform) Delay(d time.Duration) {
	p.delays = append(p.delays, d)
}

func (p *fakePlatform) Exit(code int) {
	p.exited = true
	p.exitCode = code
}

type layer struct {
	system  region.SystemRegion
	neurons region.NeuronsRegion
	kernel  region.ConvKernelRegion
	input   *region.InputRegion
	// recordingWords reserved behind the neuron header
	recordingWords int
	statistics     int
}

func onesLayer() layer {
	return layer{
		system:  region.SystemRegion{TimerPeriodMicros: 1000, SimulationTicks: 10, ZMask: 0xFF, SpikeKey: 0x01000000, FixedPointPosition: 8},
		neurons: region.NeuronsRegion{Width: 4, Height: 4, Depth: 1, Threshold: 5, Decay: 0},
		kernel:  region.ConvKernelRegion{NumKernels: 1, Depth: 1, Weights: []int8{1, 1, 1, 1, 1, 1, 1, 1, 1}},
	}
}

func (l layer) image(t *testing.T) *region.Image {
	t.Helper()
	regions := map[region.ID][]uint32{
		region.System:     region.EncodeSystem(l.system),
		region.Neurons:    region.EncodeNeurons(l.neurons, l.recordingWords),
		region.ConvKernel: region.EncodeConvKernel(l.kernel),
	}
	if l.input != nil {
		regions[region.Input] = region.EncodeInput(*l.input)
	}
	if l.statistics > 0 {
		regions[region.Statistics] = make([]uint32, l.statistics)
	}
	img, err := region.Parse(region.Build(regions))
	if err != nil {
		t.Fatalf("parse image: %v", err)
	}
	return img
}

func newNode(t *testing.T, l layer, cfg Config) (*Node, *fakePlatform) {
	t.Helper()
	platform := &fakePlatform{}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	}
	n, err := New(l.image(t), platform, cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return n, platform
}

func key(x, y, z uint32) uint32 {
	return z<<16 | y<<8 | x
}

func TestEndToEndSingleSpikeStaysBelowThreshold(t *testing.T) {
	n, platform := newNode(t, onesLayer(), Config{})

	n.PacketReceived(key(1, 1, 0))
	if platform.triggers != 1 {
		t.Fatalf("expected one deferred drain, got %d", platform.triggers)
	}
	n.UserEvent()
	if n.QueueLen() != 0 || n.State() != Idle {
		t.Fatalf("expected drained idle node, queue=%d state=%s", n.QueueLen(), n.State())
	}

	arr := n.Neurons()
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			want := int16(0)
			if x <= 2 && y <= 2 {
				want = 1
			}
			if got := arr.Potential(x, y, 0); got != want {
				t.Fatalf("potential (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}

	n.TimerTick(1)
	if len(platform.sent) != 0 {
		t.Fatalf("expected no spikes, got %v", platform.sent)
	}
	if n.Counter(stats.SpikesEmitted) != 0 || n.Counter(stats.TicksRun) != 1 {
		t.Fatalf("unexpected counters: %+v", n.Counters())
	}
	// decay 0 empties every neuron that did not fire
	if got := arr.Potential(1, 1, 0); got != 0 {
		t.Fatalf("expected decayed potential 0, got %d", got)
	}
}

func TestPacketReceivedSchedulesOneDrain(t *testing.T) {
	n, platform := newNode(t, onesLayer(), Config{})

	n.PacketReceived(key(1, 1, 0))
	n.PacketReceived(key(2, 2, 0))
	if platform.triggers != 1 {
		t.Fatalf("expected a single outstanding drain, got %d", platform.triggers)
	}
	n.UserEvent()
	if got := n.Neurons().Potential(1, 1, 0); got != 2 {
		t.Fatalf("expected both spikes drained, potential %d", got)
	}

	n.PacketReceived(key(0, 0, 0))
	if platform.triggers != 2 {
		t.Fatalf("expected a new drain after the first completed, got %d", platform.triggers)
	}
	if n.Counter(stats.SpikesReceived) != 3 {
		t.Fatalf("expected 3 received spikes, got %d", n.Counter(stats.SpikesReceived))
	}
}

func TestPacketReceivedCountsTaskQueueFull(t *testing.T) {
	n, platform := newNode(t, onesLayer(), Config{})
	platform.triggerFail = true

	n.PacketReceived(key(1, 1, 0))
	n.PacketReceived(key(1, 1, 0))
	if n.Counter(stats.TaskQueueFull) != 2 {
		t.Fatalf("expected 2 task queue failures, got %d", n.Counter(stats.TaskQueueFull))
	}

	// the timer drains inline even without a deferred event
	n.TimerTick(1)
	if n.QueueLen() != 0 {
		t.Fatalf("expected inline drain, queue=%d", n.QueueLen())
	}
}

func TestQueueOverflowIsCounted(t *testing.T) {
	n, _ := newNode(t, onesLayer(), Config{QueueCapacity: 2})

	for i := 0; i < 3; i++ {
		n.PacketReceived(key(1, 1, 0))
	}
	if n.QueueLen() != 2 {
		t.Fatalf("expected occupancy 2, got %d", n.QueueLen())
	}
	if n.Counter(stats.InputBufferOverflows) != 1 {
		t.Fatalf("expected one overflow, got %d", n.Counter(stats.InputBufferOverflows))
	}
}

func TestSpikeEmissionRetriesUnderBackpressure(t *testing.T) {
	l := onesLayer()
	l.neurons.Threshold = 0
	l.neurons.Decay = 256
	l.system.OutputZStart = 3
	n, platform := newNode(t, l, Config{})
	platform.rejections = 2

	n.PacketReceived(key(0, 0, 0))
	n.UserEvent()
	n.TimerTick(1)

	// a spike at (0,0) reaches outputs (0..1, 0..1)
	want := []uint32{
		0x01000000 | 3<<16 | 0<<8 | 0,
		0x01000000 | 3<<16 | 1<<8 | 0,
		0x01000000 | 3<<16 | 0<<8 | 1,
		0x01000000 | 3<<16 | 1<<8 | 1,
	}
	if len(platform.sent) != len(want) {
		t.Fatalf("expected %d spikes, got %x", len(want), platform.sent)
	}
	for i := range want {
		if platform.sent[i] != want[i] {
			t.Fatalf("spike %d = %08x, want %08x", i, platform.sent[i], want[i])
		}
	}
	if n.Counter(stats.SendRetries) != 2 || len(platform.delays) != 2 || platform.delays[0] != time.Microsecond {
		t.Fatalf("unexpected retries: counter=%d delays=%v", n.Counter(stats.SendRetries), platform.delays)
	}
	if n.Counter(stats.SpikesEmitted) != 4 {
		t.Fatalf("expected 4 emitted spikes, got %d", n.Counter(stats.SpikesEmitted))
	}
	if got := n.Neurons().Potential(0, 0, 0); got != 0 {
		t.Fatalf("expected reset after spike, got %d", got)
	}
}

func TestOutOfVolumeContributionsAreClipped(t *testing.T) {
	n, _ := newNode(t, onesLayer(), Config{})

	n.PacketReceived(key(0, 0, 0))
	n.UserEvent()
	// five of the nine taps land outside a 4x4 grid
	if n.Counter(stats.ClippedContributions) != 5 {
		t.Fatalf("expected 5 clipped contributions, got %d", n.Counter(stats.ClippedContributions))
	}
}

func TestFinaliseFlushesAndExits(t *testing.T) {
	l := onesLayer()
	l.system.SimulationTicks = 2
	l.statistics = 16

	var reports []Report
	img := l.image(t)
	platform := &fakePlatform{}
	n, err := New(img, platform, Config{
		Logger:   slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Reporter: func(r Report) { reports = append(reports, r) },
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	n.PacketReceived(key(1, 1, 0))
	for tick := uint32(1); tick <= 4; tick++ {
		n.TimerTick(tick)
	}

	if !platform.exited || platform.exitCode != 0 || !n.Finished() {
		t.Fatalf("expected clean exit, exited=%t code=%d", platform.exited, platform.exitCode)
	}
	if len(reports) != 1 || reports[0].TicksRun != 2 {
		t.Fatalf("expected one report of 2 ticks, got %+v", reports)
	}
	if reports[0].Profile.Samples != 2 {
		t.Fatalf("expected 2 profile samples, got %+v", reports[0].Profile)
	}
	if reports[0].Counters["spikes_received"] != 1 {
		t.Fatalf("unexpected report counters: %+v", reports[0].Counters)
	}

	statWords, _ := img.Region(region.Statistics)
	flushed := stats.DecodeCounters(statWords)
	if flushed["ticks_run"] != 2 || flushed["spikes_received"] != 1 {
		t.Fatalf("unexpected statistics region: %+v", flushed)
	}

	n.PacketReceived(key(1, 1, 0))
	if n.Counter(stats.SpikesReceived) != 1 {
		t.Fatal("finished node must ignore packets")
	}
}

func TestRecordingTransfersOneFramePerTick(t *testing.T) {
	l := onesLayer()
	l.neurons.Record = true
	l.neurons.Threshold = 0
	l.system.SimulationTicks = 3
	l.recordingWords = 3
	n, platform := newNode(t, l, Config{})

	n.PacketReceived(key(3, 3, 0))
	n.UserEvent()
	n.TimerTick(1)

	if n.State() != Recording {
		t.Fatalf("expected recording state, got %s", n.State())
	}
	if len(platform.writes) != 1 {
		t.Fatalf("expected one dma write, got %d", len(platform.writes))
	}
	w := platform.writes[0]
	// (2,2),(2,3),(3,2),(3,3) -> indices 10, 11, 14, 15
	wantBits := uint32(1<<10 | 1<<11 | 1<<14 | 1<<15)
	if w.tag != TagRecording || w.offset != 0 || len(w.words) != 1 || w.words[0] != wantBits {
		t.Fatalf("unexpected dma write: %+v", w)
	}

	n.DMATransferDone(TagRecording)
	if n.State() != Idle {
		t.Fatalf("expected idle after transfer, got %s", n.State())
	}

	n.TimerTick(2)
	if len(platform.writes) != 2 || platform.writes[1].offset != 1 || platform.writes[1].words[0] != 0 {
		t.Fatalf("expected a clean second frame at offset 1: %+v", platform.writes)
	}

	// no completion for tick 2: the next frame overruns
	n.TimerTick(3)
	if n.Counter(stats.RecordingOverruns) != 1 || len(platform.writes) != 2 {
		t.Fatalf("expected one overrun, counter=%d writes=%d", n.Counter(stats.RecordingOverruns), len(platform.writes))
	}
}

func TestUnknownDMATagIsLoggedAndIgnored(t *testing.T) {
	var logs bytes.Buffer
	n, _ := newNode(t, onesLayer(), Config{Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	n.DMATransferDone(7)
	if n.Counter(stats.UnknownDMATags) != 1 {
		t.Fatalf("expected unknown tag count 1, got %d", n.Counter(stats.UnknownDMATags))
	}
	if !strings.Contains(logs.String(), "level=ERROR") || !strings.Contains(logs.String(), "tag=7") {
		t.Fatalf("expected error log for unknown tag, got %q", logs.String())
	}

	n.TimerTick(1)
	if n.Counter(stats.TicksRun) != 1 {
		t.Fatal("tick must continue after an unknown tag")
	}
}

func TestDensePassWithStaticImage(t *testing.T) {
	l := layer{
		system:  region.SystemRegion{SimulationTicks: 4, ZMask: 0xFF, SpikeKey: 0x01000000, FixedPointPosition: 8},
		neurons: region.NeuronsRegion{Width: 1, Height: 1, Depth: 1, Threshold: 100, Decay: 256},
		kernel:  region.ConvKernelRegion{NumKernels: 1, Depth: 3, Weights: []int8{2, 0, 0}},
		input: &region.InputRegion{
			NumImages: 1, FixedPointPosition: 0, Width: 1, Height: 1, Depth: 3,
			Pixels: []int8{10, 0, 0},
		},
	}
	n, _ := newNode(t, l, Config{KernelSize: 1})
	if !n.HasImage() {
		t.Fatal("expected static image")
	}

	n.TimerTick(1)
	if got := n.Neurons().Potential(0, 0, 0); got != 20 {
		t.Fatalf("expected dense contribution 20, got %d", got)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*layer)
		want   error
	}{
		{
			name:   "key collision",
			mutate: func(l *layer) { l.system.SpikeKey = 0x00000002 },
			want:   ErrKeyCollision,
		},
		{
			name:   "output z collides",
			mutate: func(l *layer) { l.system.SpikeKey = 0x00040000; l.system.OutputZStart = 4 },
			want:   ErrKeyCollision,
		},
		{
			name: "volume too wide",
			mutate: func(l *layer) {
				l.neurons.Width = 300
			},
			want: ErrGeometry,
		},
		{
			name: "recording region too small",
			mutate: func(l *layer) {
				l.neurons.Record = true
				l.recordingWords = 9
			},
			want: ErrRecordingBudget,
		},
		{
			name: "recording forever",
			mutate: func(l *layer) {
				l.neurons.Record = true
				l.system.SimulationTicks = region.Forever
				l.recordingWords = 100
			},
			want: ErrRecordingBudget,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := onesLayer()
			tc.mutate(&l)
			_, err := New(l.image(t), &fakePlatform{}, Config{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRequiresKernelRegion(t *testing.T) {
	l := onesLayer()
	img, err := region.Parse(region.Build(map[region.ID][]uint32{
		region.System:  region.EncodeSystem(l.system),
		region.Neurons: region.EncodeNeurons(l.neurons, 0),
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = New(img, &fakePlatform{}, Config{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	if !errors.Is(err, ErrMissingRegion) {
		t.Fatalf("expected missing region, got %v", err)
	}
}

func TestRecordedBitsAreTracedAtDebug(t *testing.T) {
	var logs bytes.Buffer
	l := onesLayer()
	l.neurons.Record = true
	l.neurons.Threshold = 0
	l.system.SimulationTicks = 1
	l.recordingWords = 1
	n, _ := newNode(t, l, Config{Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))})

	n.PacketReceived(key(3, 3, 0))
	n.TimerTick(1)
	// neurons 10, 11, 14 and 15 fired
	if !strings.Contains(logs.String(), "bits=0000000000110011") {
		t.Fatalf("expected the recorded bitfield in the debug log, got %q", logs.String())
	}
}

func TestLoadFailureFlushesStatistics(t *testing.T) {
	l := onesLayer()
	l.system.SpikeKey = 0x00000002
	l.statistics = 16
	img := l.image(t)
	statWords, _ := img.Region(region.Statistics)
	for i := range statWords {
		statWords[i] = 0xFFFFFFFF
	}

	_, err := New(img, &fakePlatform{}, Config{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	if !errors.Is(err, ErrKeyCollision) {
		t.Fatalf("expected key collision, got %v", err)
	}
	for name, v := range stats.DecodeCounters(statWords) {
		if v != 0 {
			t.Fatalf("expected counters flushed over the region, %s=%d", name, v)
		}
	}
}

func TestSpikesBeyondKernelDepthAreCounted(t *testing.T) {
	n, _ := newNode(t, onesLayer(), Config{})

	n.PacketReceived(key(1, 1, 1))
	n.PacketReceived(key(1, 1, 0))
	n.UserEvent()
	if n.Counter(stats.DroppedSpikes) != 1 {
		t.Fatalf("expected one dropped spike, got %d", n.Counter(stats.DroppedSpikes))
	}
	if got := n.Neurons().Potential(1, 1, 0); got != 1 {
		t.Fatalf("expected the in-depth spike to still land, got %d", got)
	}
}
