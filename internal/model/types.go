package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord describes one node run: the layer geometry it was loaded with
// and how far it got.
type RunRecord struct {
	VersionedRecord
	ID                string `json:"id"`
	CreatedAtUTC      string `json:"created_at_utc"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	Depth             int    `json:"depth"`
	NumKernels        int    `json:"num_kernels"`
	KernelSize        int    `json:"kernel_size"`
	Stride            int    `json:"stride"`
	TimerPeriodMicros uint32 `json:"timer_period_us"`
	SimulationTicks   uint32 `json:"simulation_ticks"`
	TicksRun          int    `json:"ticks_run"`
	Record            bool   `json:"record"`
	HasImage          bool   `json:"has_image"`
	SpikesEmitted     uint64 `json:"spikes_emitted"`
}

// RecordingFrame is the spike bitfield of one tick.
type RecordingFrame struct {
	Tick  int      `json:"tick"`
	Words []uint32 `json:"words"`
}

type Recording struct {
	VersionedRecord
	RunID        string           `json:"run_id"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	Depth        int              `json:"depth"`
	WordsPerTick int              `json:"words_per_tick"`
	Frames       []RecordingFrame `json:"frames"`
}

type ProfileSummary struct {
	Samples    int     `json:"samples"`
	MinMicros  float64 `json:"min_us"`
	MeanMicros float64 `json:"mean_us"`
	MaxMicros  float64 `json:"max_us"`
}

type StatisticsRecord struct {
	VersionedRecord
	RunID    string            `json:"run_id"`
	Counters map[string]uint64 `json:"counters"`
	Profile  ProfileSummary    `json:"profile"`
}
