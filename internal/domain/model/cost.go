package model

import (
	"sync"
	"time"
)

type CostEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	TaskID       string    `json:"task_id"`
}

func NewCostEntry(taskID, modelID string, inputTokens, outputTokens int, at time.Time) CostEntry {
	return CostEntry{
		Timestamp:    at,
		Model:        modelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         Cost(modelID, inputTokens, outputTokens),
		TaskID:       taskID,
	}
}

// CostLedger accumulates the entries of a single run.
type CostLedger struct {
	mu      sync.Mutex
	entries []CostEntry
}

func (l *CostLedger) Add(e CostEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *CostLedger) Entries() []CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CostEntry(nil), l.entries...)
}

func (l *CostLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return SumCost(l.entries)
}

func SumCost(entries []CostEntry) float64 {
	var total float64
	for _, e := range entries {
		total += e.Cost
	}
	return total
}

// SumCostSince folds entries recorded at or after since.
func SumCostSince(entries []CostEntry, since time.Time) float64 {
	var total float64
	for _, e := range entries {
		if !e.Timestamp.Before(since) {
			total += e.Cost
		}
	}
	return total
}
