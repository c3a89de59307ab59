package storage

import (
	"context"

	"convnode/internal/model"
)

// Store persists what a node run leaves behind: the run description, the
// recorded spike frames and the flushed statistics.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveRecording(ctx context.Context, recording model.Recording) error
	GetRecording(ctx context.Context, runID string) (model.Recording, bool, error)
	SaveStatistics(ctx context.Context, record model.StatisticsRecord) error
	GetStatistics(ctx context.Context, runID string) (model.StatisticsRecord, bool, error)
}
