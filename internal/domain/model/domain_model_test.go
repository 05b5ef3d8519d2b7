//go:build !integration

package model

import (
	"math"
	"testing"
	"time"
)

// --- Model tier tests ---

func TestTierByID(t *testing.T) {
	t.Run("known id resolves to its tier", func(t *testing.T) {
		tier := TierByID("claude-sonnet-4")
		if tier.Name != "Sonnet 4" {
			t.Fatalf("expected Sonnet 4, got %s", tier.Name)
		}
	})

	t.Run("unknown id falls back to the default tier", func(t *testing.T) {
		tier := TierByID("gpt-nonexistent")
		if tier.ID != ModelTiers[0].ID {
			t.Fatalf("expected fallback to %s, got %s", ModelTiers[0].ID, tier.ID)
		}
	})
}

func TestClampTierIndex(t *testing.T) {
	cases := map[int]int{-3: 0, 0: 0, 2: 2, 99: LastTierIndex()}
	for in, want := range cases {
		if got := ClampTierIndex(in); got != want {
			t.Errorf("ClampTierIndex(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCost(t *testing.T) {
	// Sonnet 4: $3 in, $15 out per million.
	got := Cost("claude-sonnet-4", 1_000_000, 500_000)
	if math.Abs(got-10.5) > 1e-9 {
		t.Fatalf("expected 10.5, got %f", got)
	}

	// Unknown model is priced as the default tier.
	got = Cost("mystery", 1_000_000, 0)
	if math.Abs(got-ModelTiers[0].InputPrice) > 1e-9 {
		t.Fatalf("expected default tier input price, got %f", got)
	}
}

// --- Task tests ---

func TestPriorityRank(t *testing.T) {
	if !(PriorityCritical.Rank() < PriorityHigh.Rank() &&
		PriorityHigh.Rank() < PriorityMedium.Rank() &&
		PriorityMedium.Rank() < PriorityLow.Rank()) {
		t.Fatal("priority ranks are not strictly ordered")
	}
}

func TestApplyEdits(t *testing.T) {
	t.Run("same modify twice is idempotent", func(t *testing.T) {
		once := map[string]string{}
		twice := map[string]string{}
		edit := FileEdit{Path: "a.ts", Content: "X", Action: FileActionModify}

		ApplyEdits(once, []FileEdit{edit})
		ApplyEdits(twice, []FileEdit{edit, edit})

		if len(once) != 1 || once["a.ts"] != "X" || len(twice) != 1 || twice["a.ts"] != "X" {
			t.Fatalf("maps differ: once=%v twice=%v", once, twice)
		}
	})

	t.Run("delete removes the key instead of writing empty content", func(t *testing.T) {
		files := map[string]string{"a.ts": "X", "b.ts": "Y"}
		ApplyEdits(files, []FileEdit{{Path: "a.ts", Action: FileActionDelete}})
		if _, ok := files["a.ts"]; ok {
			t.Fatal("expected a.ts to be removed")
		}
		if files["b.ts"] != "Y" {
			t.Fatal("expected b.ts untouched")
		}
	})

	t.Run("last write wins per path", func(t *testing.T) {
		files := map[string]string{}
		ApplyEdits(files, []FileEdit{
			{Path: "a.ts", Content: "1", Action: FileActionCreate},
			{Path: "a.ts", Content: "2", Action: FileActionModify},
		})
		if files["a.ts"] != "2" {
			t.Fatalf("expected 2, got %q", files["a.ts"])
		}
	})
}

func TestTaskClone(t *testing.T) {
	now := time.Now()
	orig := &Task{
		ID:           "task_1",
		Input:        TaskInput{ExistingFiles: map[string]string{"a": "1"}},
		StartedAt:    &now,
		RetryHistory: []RetryEntry{{Attempt: 1}},
		ChildTaskIDs: []string{"c1"},
	}
	cp := orig.Clone()
	cp.Input.ExistingFiles["a"] = "changed"
	cp.RetryHistory[0].Attempt = 9
	cp.ChildTaskIDs[0] = "x"
	*cp.StartedAt = now.Add(time.Hour)

	if orig.Input.ExistingFiles["a"] != "1" || orig.RetryHistory[0].Attempt != 1 ||
		orig.ChildTaskIDs[0] != "c1" || !orig.StartedAt.Equal(now) {
		t.Fatal("clone shares state with the original")
	}
}

// --- Cost ledger tests ---

func TestCostLedger(t *testing.T) {
	var l CostLedger
	l.Add(NewCostEntry("t", "claude-3-5-haiku-20241022", 1000, 2000, time.Now()))
	l.Add(NewCostEntry("t", "claude-opus-4-6", 100, 100, time.Now()))

	if got, want := l.Total(), SumCost(l.Entries()); got != want {
		t.Fatalf("total %f != sum of entries %f", got, want)
	}
	if len(l.Entries()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(l.Entries()))
	}
}

func TestSumCostSince(t *testing.T) {
	midnight := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	entries := []CostEntry{
		{Timestamp: midnight.Add(-time.Minute), Cost: 1},
		{Timestamp: midnight, Cost: 2},
		{Timestamp: midnight.Add(time.Hour), Cost: 3},
	}
	if got := SumCostSince(entries, midnight); got != 5 {
		t.Fatalf("expected 5, got %f", got)
	}
}

// --- Settings tests ---

func TestSettingsPatchApply(t *testing.T) {
	s := DefaultSettings()
	mode := ExecutionModeFullAuto
	bad := ExecutionMode("turbo")
	idx := 42
	conc := 0

	s = SettingsPatch{ExecutionMode: &mode, DefaultModelIndex: &idx, MaxConcurrentTasks: &conc}.Apply(s)
	if s.ExecutionMode != ExecutionModeFullAuto {
		t.Errorf("expected full_auto, got %s", s.ExecutionMode)
	}
	if s.DefaultModelIndex != LastTierIndex() {
		t.Errorf("expected clamped index %d, got %d", LastTierIndex(), s.DefaultModelIndex)
	}
	if s.MaxConcurrentTasks != 3 {
		t.Errorf("non-positive concurrency must be ignored, got %d", s.MaxConcurrentTasks)
	}

	s = SettingsPatch{ExecutionMode: &bad}.Apply(s)
	if s.ExecutionMode != ExecutionModeFullAuto {
		t.Errorf("invalid mode must be ignored, got %s", s.ExecutionMode)
	}
}
