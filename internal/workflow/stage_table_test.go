package workflow

import (
	"testing"
	"time"
)

func TestStageTableContiguous(t *testing.T) {
	stages := Stages()
	if len(stages) == 0 {
		t.Fatalf("no stages defined")
	}
	if stages[0].PctStart != 0 {
		t.Fatalf("first stage starts at %d, want 0", stages[0].PctStart)
	}
	if stages[len(stages)-1].PctEnd != 100 {
		t.Fatalf("last stage ends at %d, want 100", stages[len(stages)-1].PctEnd)
	}
	for i := 1; i < len(stages); i++ {
		if stages[i].PctStart != stages[i-1].PctEnd {
			t.Fatalf("gap between %s (ends %d) and %s (starts %d)",
				stages[i-1].Name, stages[i-1].PctEnd, stages[i].Name, stages[i].PctStart)
		}
	}
}

func TestNextStageChain(t *testing.T) {
	cur := FirstStage()
	seen := map[string]bool{cur.Name: true}
	for {
		next, ok := NextStage(cur.Name)
		if !ok {
			break
		}
		if seen[next.Name] {
			t.Fatalf("stage %s visited twice", next.Name)
		}
		seen[next.Name] = true
		cur = next
	}
	if cur.Name != StageFinalize {
		t.Fatalf("chain ends at %s, want %s", cur.Name, StageFinalize)
	}
	if len(seen) != len(Stages()) {
		t.Fatalf("chain covered %d stages, want %d", len(seen), len(Stages()))
	}
}

func TestStagePct(t *testing.T) {
	cases := []struct {
		stage string
		frac  float64
		want  int
	}{
		{StageParse, 0, 0},
		{StageParse, 1, 20},
		{StageExtract, 0.5, 32},
		{StageSync, 1, 95},
		{StageFinalize, 1, 100},
		{StagePersist, -1, 45},
		{StagePersist, 2, 60},
		{"bogus", 0.5, 0},
	}
	for _, tc := range cases {
		if got := StagePct(tc.stage, tc.frac); got != tc.want {
			t.Errorf("StagePct(%s, %v) = %d, want %d", tc.stage, tc.frac, got, tc.want)
		}
	}
}

func TestStageTableEnvOverrides(t *testing.T) {
	t.Setenv("STAGE_PARSE_LOCK_DURATION", "90s")
	t.Setenv("STAGE_PARSE_MAX_ATTEMPTS", "7")

	table := buildStageTable()
	if table[0].Name != StageParse {
		t.Fatalf("first stage = %s, want parse", table[0].Name)
	}
	if table[0].LockDuration != 90*time.Second {
		t.Fatalf("parse lock duration = %v, want the 90s override", table[0].LockDuration)
	}
	if table[0].MaxAttempts != 7 {
		t.Fatalf("parse max attempts = %d, want the override 7", table[0].MaxAttempts)
	}

	// Stages without overrides keep their defaults.
	if table[1].Name != StageExtract || table[1].MaxAttempts != 3 {
		t.Fatalf("extract spec changed without an override: %+v", table[1])
	}
}
