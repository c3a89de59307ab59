package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"convnode/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID             string `json:"run_id"`
	ImagePath         string `json:"image_path,omitempty"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	Depth             int    `json:"depth"`
	NumKernels        int    `json:"num_kernels"`
	KernelSize        int    `json:"kernel_size"`
	Stride            int    `json:"stride"`
	TimerPeriodMicros uint32 `json:"timer_period_us"`
	SimulationTicks   uint32 `json:"simulation_ticks"`
	Record            bool   `json:"record"`
	StoreKind         string `json:"store_kind"`
}

type RunArtifacts struct {
	Config        RunConfig              `json:"config"`
	Statistics    map[string]uint64      `json:"statistics"`
	Profile       model.ProfileSummary   `json:"profile"`
	SpikesPerTick []int                  `json:"spikes_per_tick,omitempty"`
	Outgoing      []OutgoingSpikeSummary `json:"outgoing,omitempty"`
}

type OutgoingSpikeSummary struct {
	Tick  int `json:"tick"`
	Count int `json:"count"`
}

type RunIndexEntry struct {
	RunID         string `json:"run_id"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Depth         int    `json:"depth"`
	TicksRun      int    `json:"ticks_run"`
	SpikesEmitted uint64 `json:"spikes_emitted"`
	CreatedAtUTC  string `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "statistics.json"), artifacts.Statistics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "profile.json"), artifacts.Profile); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "spikes.json"), map[string]any{"spikes_per_tick": artifacts.SpikesPerTick, "outgoing": artifacts.Outgoing}); err != nil {
		return "", err
	}

	return runDir, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadRunStatistics(baseDir, runID string) (map[string]uint64, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "statistics.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var counters map[string]uint64
	if err := json.Unmarshal(data, &counters); err != nil {
		return nil, false, err
	}
	return counters, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the newest runs first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
