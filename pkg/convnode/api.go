package convnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gorgonia.org/tensor"

	"convnode/internal/bitfield"
	"convnode/internal/layer"
	"convnode/internal/model"
	"convnode/internal/node"
	"convnode/internal/platform"
	"convnode/internal/recording"
	"convnode/internal/region"
	"convnode/internal/stats"
	"convnode/internal/storage"
)

const (
	defaultRunsDir = "runs"
	defaultDBPath  = "convnode.db"
)

type Options struct {
	StoreKind string
	DBPath    string
	RunsDir   string
	Logger    *slog.Logger
}

type Client struct {
	store     storage.Store
	storeKind string
	runsDir   string
	log       *slog.Logger
}

type Stimulus = platform.Stimulus

type RunRequest struct {
	RunID string
	// Layer is quantised into a node image unless ImagePath or Image is set.
	Layer     *layer.Layer
	ImagePath string
	Image     []uint32

	KernelSize   int
	Stride       int
	Stimuli      []Stimulus
	Backpressure int
	Loopback     bool
	MaxTicks     uint32
}

type RunSummary struct {
	RunID         string
	ArtifactsDir  string
	TicksRun      int
	SpikesEmitted uint64
	SpikesPerTick []int
	Counters      map[string]uint64
	Profile       model.ProfileSummary
}

type RunsRequest struct {
	Limit int
}

type RecordingRequest struct {
	RunID  string
	Latest bool
}

type SpikeRecording struct {
	RunID         string
	Width         int
	Height        int
	Depth         int
	Spikes        *tensor.Dense
	SpikesPerTick []int
}

type StatisticsRequest struct {
	RunID  string
	Latest bool
}

func New(opts Options) (*Client, error) {
	storeKind := storage.ResolveKind(opts.StoreKind)
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:     store,
		storeKind: storeKind,
		runsDir:   runsDir,
		log:       logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Run loads a node image onto a simulated board, runs it until the node
// exits and persists what the run left behind.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return RunSummary{}, err
	}
	words, err := req.imageWords()
	if err != nil {
		return RunSummary{}, err
	}
	img, err := region.Parse(words)
	if err != nil {
		return RunSummary{}, fmt.Errorf("parse node image: %w", err)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := c.log.With("run_id", runID)

	kernelSize, stride := req.KernelSize, req.Stride
	if req.Layer != nil {
		if kernelSize == 0 {
			kernelSize = req.Layer.KernelSize
		}
		if stride == 0 {
			stride = req.Layer.Stride
		}
	}

	var report node.Report
	board, err := platform.NewBoard(img, platform.Config{
		Stimuli:      req.Stimuli,
		Backpressure: req.Backpressure,
		Loopback:     req.Loopback,
		MaxTicks:     req.MaxTicks,
		Logger:       log,
		Node: node.Config{
			KernelSize: kernelSize,
			Stride:     stride,
			Logger:     log,
			Reporter:   func(r node.Report) { report = r },
		},
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("load node: %w", err)
	}
	if err := board.Run(); err != nil {
		return RunSummary{}, err
	}

	n := board.Node()
	arr := n.Neurons()
	system := n.System()
	kernel := n.Kernel()
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)

	run := model.RunRecord{
		VersionedRecord:   storage.Versioned(),
		ID:                runID,
		CreatedAtUTC:      createdAt,
		Width:             arr.Width(),
		Height:            arr.Height(),
		Depth:             arr.Depth(),
		NumKernels:        kernel.NumKernels(),
		KernelSize:        kernel.Size(),
		Stride:            kernel.Stride(),
		TimerPeriodMicros: system.TimerPeriodMicros,
		SimulationTicks:   system.SimulationTicks,
		TicksRun:          report.TicksRun,
		Record:            arr.Recorder() != nil,
		HasImage:          n.HasImage(),
		SpikesEmitted:     n.Counter(stats.SpikesEmitted),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveStatistics(ctx, model.StatisticsRecord{
		VersionedRecord: storage.Versioned(),
		RunID:           runID,
		Counters:        report.Counters,
		Profile:         report.Profile,
	}); err != nil {
		return RunSummary{}, fmt.Errorf("save statistics: %w", err)
	}

	spikesPerTick := outgoingPerTick(board.Outgoing(), report.TicksRun)
	if rec := arr.Recorder(); rec != nil && board.Recording() != nil {
		frames, err := recording.Frames(board.Recording(), rec.Words(), report.TicksRun)
		if err != nil {
			return RunSummary{}, fmt.Errorf("read recording: %w", err)
		}
		if err := c.store.SaveRecording(ctx, model.Recording{
			VersionedRecord: storage.Versioned(),
			RunID:           runID,
			Width:           arr.Width(),
			Height:          arr.Height(),
			Depth:           arr.Depth(),
			WordsPerTick:    rec.Words(),
			Frames:          frames,
		}); err != nil {
			return RunSummary{}, fmt.Errorf("save recording: %w", err)
		}
	}

	outgoing := make([]stats.OutgoingSpikeSummary, 0, len(spikesPerTick))
	for tick, count := range spikesPerTick {
		if count > 0 {
			outgoing = append(outgoing, stats.OutgoingSpikeSummary{Tick: tick, Count: count})
		}
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:             runID,
			ImagePath:         req.ImagePath,
			Width:             run.Width,
			Height:            run.Height,
			Depth:             run.Depth,
			NumKernels:        run.NumKernels,
			KernelSize:        run.KernelSize,
			Stride:            run.Stride,
			TimerPeriodMicros: run.TimerPeriodMicros,
			SimulationTicks:   run.SimulationTicks,
			Record:            run.Record,
			StoreKind:         c.storeKind,
		},
		Statistics:    report.Counters,
		Profile:       report.Profile,
		SpikesPerTick: spikesPerTick,
		Outgoing:      outgoing,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("write artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:         runID,
		Width:         run.Width,
		Height:        run.Height,
		Depth:         run.Depth,
		TicksRun:      run.TicksRun,
		SpikesEmitted: run.SpikesEmitted,
		CreatedAtUTC:  createdAt,
	}); err != nil {
		return RunSummary{}, fmt.Errorf("append run index: %w", err)
	}

	log.Info("run complete", "ticks", report.TicksRun, "spikes_emitted", run.SpikesEmitted, "artifacts", runDir)
	return RunSummary{
		RunID:         runID,
		ArtifactsDir:  runDir,
		TicksRun:      report.TicksRun,
		SpikesEmitted: run.SpikesEmitted,
		SpikesPerTick: spikesPerTick,
		Counters:      report.Counters,
		Profile:       report.Profile,
	}, nil
}

func (req RunRequest) imageWords() ([]uint32, error) {
	switch {
	case req.Image != nil:
		return append([]uint32(nil), req.Image...), nil
	case req.ImagePath != "":
		data, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return nil, err
		}
		return region.WordsFromBytes(data)
	case req.Layer != nil:
		return req.Layer.Build()
	default:
		return nil, errors.New("run needs a layer or a node image")
	}
}

func outgoingPerTick(spikes []platform.OutgoingSpike, ticks int) []int {
	counts := make([]int, ticks)
	for _, s := range spikes {
		if int(s.Tick) < ticks {
			counts[s.Tick]++
		}
	}
	return counts
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

// Recording decodes the recorded spikes of a run into a
// ticks x width x height x depth tensor.
func (c *Client) Recording(ctx context.Context, req RecordingRequest) (SpikeRecording, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return SpikeRecording{}, err
	}
	rec, ok, err := c.store.GetRecording(ctx, runID)
	if err != nil {
		return SpikeRecording{}, err
	}
	if !ok {
		return SpikeRecording{}, fmt.Errorf("no recording for run %s", runID)
	}
	if want := bitfield.WordSize(rec.Width * rec.Height * rec.Depth); rec.WordsPerTick != want {
		return SpikeRecording{}, fmt.Errorf("recording of run %s has %d words per tick, want %d", runID, rec.WordsPerTick, want)
	}
	spikes, err := recording.Decode(rec.Frames, rec.Width, rec.Height, rec.Depth)
	if err != nil {
		return SpikeRecording{}, err
	}
	return SpikeRecording{
		RunID:         runID,
		Width:         rec.Width,
		Height:        rec.Height,
		Depth:         rec.Depth,
		Spikes:        spikes,
		SpikesPerTick: recording.Count(spikes),
	}, nil
}

func (c *Client) Statistics(ctx context.Context, req StatisticsRequest) (model.StatisticsRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return model.StatisticsRecord{}, err
	}
	record, ok, err := c.store.GetStatistics(ctx, runID)
	if err != nil {
		return model.StatisticsRecord{}, err
	}
	if !ok {
		return model.StatisticsRecord{}, fmt.Errorf("no statistics for run %s", runID)
	}
	return record, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id is required unless latest is set")
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs found")
	}
	return runs[0].ID, nil
}
