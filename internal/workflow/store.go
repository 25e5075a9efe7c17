package workflow

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// ResultStore accumulates per-stage output for a run. Each stage writes its
// own payload once (idempotently); readers get a single merged view where a
// later stage's keys shadow an earlier stage's.
type ResultStore struct {
	results repos.StageResultRepo
	log     *logger.Logger
}

func NewResultStore(results repos.StageResultRepo, baseLog *logger.Logger) *ResultStore {
	return &ResultStore{
		results: results,
		log:     baseLog.With("component", "ResultStore"),
	}
}

// Put records a stage's output. v is marshaled to JSON; retried stages
// overwrite their previous payload.
func (s *ResultStore) Put(ctx context.Context, tx *gorm.DB, runID uuid.UUID, stage string, v interface{}) error {
	if runID == uuid.Nil {
		return ValidationError("put: missing run id")
	}
	if _, ok := StageByName(stage); !ok {
		return ValidationError("put: unknown stage " + stage)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.results.Upsert(ctx, tx, runID, stage, datatypes.JSON(raw))
}

// Get unmarshals one stage's payload into out. Returns false when the
// stage has not written yet.
func (s *ResultStore) Get(ctx context.Context, tx *gorm.DB, runID uuid.UUID, stage string, out interface{}) (bool, error) {
	rows, err := s.results.ListByRun(ctx, tx, runID)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Stage != stage {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(row.Payload, out); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return false, nil
}

// Merged returns the accumulated view across all stages that have written:
// payloads applied in pipeline order, so a later stage's value for a key
// wins over an earlier stage's.
func (s *ResultStore) Merged(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (map[string]json.RawMessage, error) {
	rows, err := s.results.ListByRun(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return StageOrder(rows[i].Stage) < StageOrder(rows[j].Stage)
	})
	merged := map[string]json.RawMessage{}
	for _, row := range rows {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			s.log.Warn("skipping unreadable stage payload",
				"run_id", runID.String(), "stage", row.Stage, "error", err)
			continue
		}
		for k, v := range payload {
			merged[k] = v
		}
	}
	return merged, nil
}

// MergedInto decodes the merged view into a typed struct.
func (s *ResultStore) MergedInto(ctx context.Context, tx *gorm.DB, runID uuid.UUID, out interface{}) error {
	merged, err := s.Merged(ctx, tx, runID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
