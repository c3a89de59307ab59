package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"convnode/internal/layer"
	"convnode/internal/region"
	"convnode/internal/stats"
	"convnode/internal/storage"
	convapi "convnode/pkg/convnode"
)

const (
	runsDir = "runs"
	dbPath  = "convnode.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "build":
		return runBuild(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "spikes":
		return runSpikes(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type layerFlags struct {
	width         *int
	height        *int
	threshold     *float64
	decay         *float64
	record        *bool
	kernelSize    *int
	stride        *int
	ticks         *uint
	timerPeriodUS *uint
	spikeKey      *uint
	outputZStart  *uint
}

func addLayerFlags(fs *flag.FlagSet) *layerFlags {
	return &layerFlags{
		width:         fs.Int("width", 0, "output neuron width"),
		height:        fs.Int("height", 0, "output neuron height"),
		threshold:     fs.Float64("threshold", 0, "membrane threshold"),
		decay:         fs.Float64("decay", 0, "membrane decay factor per tick"),
		record:        fs.Bool("record", false, "record spikes every tick"),
		kernelSize:    fs.Int("kernel-size", 3, "odd kernel width and height"),
		stride:        fs.Int("stride", 1, "convolution stride"),
		ticks:         fs.Uint("ticks", defaultTicks, "simulation ticks"),
		timerPeriodUS: fs.Uint("timer-period-us", layer.DefaultTimerPeriodMicros, "timer period in microseconds"),
		spikeKey:      fs.Uint("spike-key", 0, "routing key ORed into every outgoing spike"),
		outputZStart:  fs.Uint("output-z-start", 0, "z offset of this core's output slice"),
	}
}

func (f *layerFlags) values() map[string]any {
	return map[string]any{
		"width":           *f.width,
		"height":          *f.height,
		"threshold":       *f.threshold,
		"decay":           *f.decay,
		"record":          *f.record,
		"kernel-size":     *f.kernelSize,
		"stride":          *f.stride,
		"ticks":           *f.ticks,
		"timer-period-us": *f.timerPeriodUS,
		"spike-key":       *f.spikeKey,
		"output-z-start":  *f.outputZStart,
	}
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func runBuild(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "layer config JSON path")
	outPath := fs.String("out", "node.img", "node image output path")
	lf := addLayerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadOrDefaultRunConfig(*configPath)
	if err != nil {
		return err
	}
	overrideFromFlags(&cfg.Layer, visited(fs), lf.values())

	words, err := cfg.Layer.Build()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, region.BytesFromWords(words), 0o644); err != nil {
		return err
	}
	fmt.Printf("built image=%s words=%d neurons=%dx%dx%d fixed_point=%d\n",
		*outPath, len(words), cfg.Layer.Width, cfg.Layer.Height, cfg.Layer.Depth(), cfg.Layer.FixedPointPosition())
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "layer config JSON path")
	imagePath := fs.String("image", "", "prebuilt node image path (overrides the layer config)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPathFlag := fs.String("db-path", dbPath, "sqlite database path")
	runsDirFlag := fs.String("runs-dir", runsDir, "run artifacts directory")
	backpressure := fs.Int("backpressure", 0, "router rejections before every accepted packet")
	loopback := fs.Bool("loopback", false, "feed outgoing spikes back into the node")
	maxTicks := fs.Uint("max-ticks", 0, "stop runs without a tick budget after this many ticks")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	lf := addLayerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	req := convapi.RunRequest{
		RunID:        *runID,
		ImagePath:    *imagePath,
		Backpressure: *backpressure,
		Loopback:     *loopback,
		MaxTicks:     uint32(*maxTicks),
	}
	cfg, err := loadOrDefaultRunConfig(*configPath)
	if err != nil {
		return err
	}
	req.Stimuli = cfg.Stimuli
	set := visited(fs)
	if *imagePath == "" {
		overrideFromFlags(&cfg.Layer, set, lf.values())
		req.Layer = &cfg.Layer
	} else {
		req.KernelSize = *lf.kernelSize
		req.Stride = *lf.stride
	}

	client, err := convapi.New(convapi.Options{
		StoreKind: *storeKind,
		DBPath:    *dbPathFlag,
		RunsDir:   *runsDirFlag,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run_id":          summary.RunID,
			"artifacts_dir":   summary.ArtifactsDir,
			"ticks_run":       summary.TicksRun,
			"spikes_emitted":  summary.SpikesEmitted,
			"spikes_per_tick": summary.SpikesPerTick,
			"statistics":      summary.Counters,
			"profile":         summary.Profile,
		})
	}
	fmt.Printf("run_id=%s ticks=%d spikes_emitted=%d overflows=%d artifacts=%s\n",
		summary.RunID,
		summary.TicksRun,
		summary.SpikesEmitted,
		summary.Counters[stats.InputBufferOverflows.String()],
		summary.ArtifactsDir,
	)
	return nil
}

func runRuns(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	runsDirFlag := fs.String("runs-dir", runsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := stats.ListRunIndex(*runsDirFlag)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if len(entries) > *limit {
		entries = entries[:*limit]
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("run_id=%s created_at=%s neurons=%dx%dx%d ticks=%d spikes_emitted=%d\n",
			e.RunID,
			e.CreatedAtUTC,
			e.Width,
			e.Height,
			e.Depth,
			e.TicksRun,
			e.SpikesEmitted,
		)
	}
	return nil
}

func runSpikes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("spikes", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPathFlag := fs.String("db-path", dbPath, "sqlite database path")
	showNeurons := fs.Bool("neurons", false, "list the coordinates of every spike")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := convapi.New(convapi.Options{StoreKind: *storeKind, DBPath: *dbPathFlag})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	rec, err := client.Recording(ctx, convapi.RecordingRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s neurons=%dx%dx%d ticks=%d\n", rec.RunID, rec.Width, rec.Height, rec.Depth, len(rec.SpikesPerTick))
	for tick, count := range rec.SpikesPerTick {
		fmt.Printf("tick=%d spikes=%d\n", tick, count)
		if !*showNeurons || count == 0 {
			continue
		}
		for x := 0; x < rec.Width; x++ {
			for y := 0; y < rec.Height; y++ {
				for z := 0; z < rec.Depth; z++ {
					v, err := rec.Spikes.At(tick, x, y, z)
					if err != nil {
						return err
					}
					if v.(uint8) != 0 {
						fmt.Printf("  x=%d y=%d z=%d\n", x, y, z)
					}
				}
			}
		}
	}
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPathFlag := fs.String("db-path", dbPath, "sqlite database path")
	runsDirFlag := fs.String("runs-dir", runsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := convapi.New(convapi.Options{StoreKind: *storeKind, DBPath: *dbPathFlag, RunsDir: *runsDirFlag})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	id := *runID
	counters := map[string]uint64{}
	record, err := client.Statistics(ctx, convapi.StatisticsRequest{RunID: id, Latest: *latest})
	switch {
	case err == nil:
		id = record.RunID
		counters = record.Counters
	case id != "":
		// the memory store does not outlive a run; fall back to its artifacts
		fromFile, ok, readErr := stats.ReadRunStatistics(*runsDirFlag, id)
		if readErr != nil {
			return readErr
		}
		if !ok {
			return err
		}
		counters = fromFile
	default:
		return err
	}

	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("run_id=%s\n", id)
	for _, name := range names {
		fmt.Printf("%s=%d\n", name, counters[name])
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: convnodectl <build|run|runs|spikes|stats> [flags]", msg)
}
