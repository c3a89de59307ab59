package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"convnode/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	recordings  map[string]model.Recording
	statistics  map[string]model.StatisticsRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.recordings = make(map[string]model.Recording)
	s.statistics = make(map[string]model.StatisticsRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveRecording(_ context.Context, recording model.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.recordings[recording.RunID] = cloneRecording(recording)
	return nil
}

func (s *MemoryStore) GetRecording(_ context.Context, runID string) (model.Recording, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recording, ok := s.recordings[runID]
	if !ok {
		return model.Recording{}, false, nil
	}
	return cloneRecording(recording), true, nil
}

func (s *MemoryStore) SaveStatistics(_ context.Context, record model.StatisticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.statistics[record.RunID] = cloneStatistics(record)
	return nil
}

func (s *MemoryStore) GetStatistics(_ context.Context, runID string) (model.StatisticsRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.statistics[runID]
	if !ok {
		return model.StatisticsRecord{}, false, nil
	}
	return cloneStatistics(record), true, nil
}

func cloneRecording(r model.Recording) model.Recording {
	frames := make([]model.RecordingFrame, len(r.Frames))
	for i, f := range r.Frames {
		frames[i] = model.RecordingFrame{Tick: f.Tick, Words: append([]uint32(nil), f.Words...)}
	}
	r.Frames = frames
	return r
}

func cloneStatistics(s model.StatisticsRecord) model.StatisticsRecord {
	counters := make(map[string]uint64, len(s.Counters))
	for k, v := range s.Counters {
		counters[k] = v
	}
	s.Counters = counters
	return s
}

// sortRuns orders newest first, then by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}
