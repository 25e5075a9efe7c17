package workflow

import (
	"strings"
	"time"

	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
)

// Pipeline stage names, in execution order.
const (
	StageParse    = "parse"
	StageExtract  = "extract"
	StagePersist  = "persist"
	StageProducts = "products"
	StageImages   = "images"
	StageSync     = "sync"
	StageFinalize = "finalize"
)

// StageSpec pins down everything static about one stage: its queue, its
// share of the global progress bar, and how long a worker may hold a
// claimed job before the sweep treats it as abandoned.
type StageSpec struct {
	Name         string
	Queue        string
	PctStart     int
	PctEnd       int
	LockDuration time.Duration
	MaxAttempts  int
}

// stageTable is the single source of truth for stage ordering. Progress
// ranges are contiguous over 0..100 so the global bar never jumps backwards
// between stages. Lock durations and retry ceilings carry defaults tuned to
// each stage's latency profile and can be overridden per stage through
// STAGE_<NAME>_LOCK_DURATION and STAGE_<NAME>_MAX_ATTEMPTS.
var stageTable = buildStageTable()

func buildStageTable() []StageSpec {
	table := []StageSpec{
		{Name: StageParse, Queue: "po-parse", PctStart: 0, PctEnd: 20, LockDuration: 5 * time.Minute, MaxAttempts: 3},
		{Name: StageExtract, Queue: "po-extract", PctStart: 20, PctEnd: 45, LockDuration: 10 * time.Minute, MaxAttempts: 3},
		{Name: StagePersist, Queue: "po-persist", PctStart: 45, PctEnd: 60, LockDuration: 2 * time.Minute, MaxAttempts: 5},
		{Name: StageProducts, Queue: "po-products", PctStart: 60, PctEnd: 70, LockDuration: 2 * time.Minute, MaxAttempts: 5},
		{Name: StageImages, Queue: "po-images", PctStart: 70, PctEnd: 80, LockDuration: 5 * time.Minute, MaxAttempts: 3},
		{Name: StageSync, Queue: "po-sync", PctStart: 80, PctEnd: 95, LockDuration: 5 * time.Minute, MaxAttempts: 5},
		{Name: StageFinalize, Queue: "po-finalize", PctStart: 95, PctEnd: 100, LockDuration: 1 * time.Minute, MaxAttempts: 3},
	}
	for i := range table {
		key := strings.ToUpper(table[i].Name)
		table[i].LockDuration = envutil.Duration("STAGE_"+key+"_LOCK_DURATION", table[i].LockDuration)
		table[i].MaxAttempts = envutil.Int("STAGE_"+key+"_MAX_ATTEMPTS", table[i].MaxAttempts)
	}
	return table
}

var stageIndex = func() map[string]int {
	idx := make(map[string]int, len(stageTable))
	for i, s := range stageTable {
		idx[s.Name] = i
	}
	return idx
}()

// Stages returns the ordered stage specs.
func Stages() []StageSpec {
	out := make([]StageSpec, len(stageTable))
	copy(out, stageTable)
	return out
}

// StageByName returns the spec for a stage, false if unknown.
func StageByName(name string) (StageSpec, bool) {
	i, ok := stageIndex[name]
	if !ok {
		return StageSpec{}, false
	}
	return stageTable[i], true
}

// NextStage returns the stage after name, false when name is the last
// stage or unknown.
func NextStage(name string) (StageSpec, bool) {
	i, ok := stageIndex[name]
	if !ok || i+1 >= len(stageTable) {
		return StageSpec{}, false
	}
	return stageTable[i+1], true
}

// FirstStage returns the pipeline entry stage.
func FirstStage() StageSpec { return stageTable[0] }

// StageOrder returns the position of a stage in the pipeline, -1 if
// unknown. Later stages shadow earlier ones when merged payloads collide.
func StageOrder(name string) int {
	i, ok := stageIndex[name]
	if !ok {
		return -1
	}
	return i
}

// StagePct maps within-stage completion (0..1) to the global 0..100 bar.
func StagePct(name string, frac float64) int {
	spec, ok := StageByName(name)
	if !ok {
		return 0
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return spec.PctStart + int(frac*float64(spec.PctEnd-spec.PctStart))
}
