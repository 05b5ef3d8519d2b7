// Package memory holds process-local implementations of every repository port.
// It backs the default dev setup and the use-case tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
)

// Compile-time checks
var (
	_ repository.TaskRepository            = (*TaskRepo)(nil)
	_ repository.SettingsRepository        = (*SettingsRepo)(nil)
	_ repository.ConversationLogRepository = (*LogRepo)(nil)
	_ repository.FileSnapshotRepository    = (*FileRepo)(nil)
	_ repository.CostLedgerRepository      = (*CostRepo)(nil)
	_ repository.TransactionManager        = (*TxManager)(nil)
)

// Store groups the collections. All repos are safe for concurrent use.
type Store struct {
	Tasks    *TaskRepo
	Settings *SettingsRepo
	Logs     *LogRepo
	Files    *FileRepo
	Costs    *CostRepo
	Tx       *TxManager
}

func NewStore() *Store {
	return &Store{
		Tasks:    NewTaskRepo(),
		Settings: NewSettingsRepo(),
		Logs:     NewLogRepo(),
		Files:    NewFileRepo(),
		Costs:    NewCostRepo(),
		Tx:       &TxManager{},
	}
}

// TxManager runs fn directly; each repo call is already atomic on its own.
type TxManager struct{}

func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// ---- tasks ----

type TaskRepo struct {
	mu    sync.RWMutex
	items map[string]*model.Task
}

func NewTaskRepo() *TaskRepo {
	return &TaskRepo{items: make(map[string]*model.Task)}
}

func (r *TaskRepo) Create(_ context.Context, _ repository.Tx, t *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.items[t.ID] = t.Clone()
	return nil
}

func (r *TaskRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.Clone(), nil
}

// List returns copies ordered by creation time.
func (r *TaskRepo) List(_ context.Context, _ repository.Tx) ([]*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Task, 0, len(r.items))
	for _, t := range r.items {
		out = append(out, t.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *TaskRepo) Update(_ context.Context, id string, fn repository.TaskMutator) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := t.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	r.items[id] = cp
	return cp.Clone(), nil
}

func (r *TaskRepo) ReplaceAll(_ context.Context, _ repository.Tx, tasks []*model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		r.items[t.ID] = t.Clone()
	}
	return nil
}

// ---- settings ----

type SettingsRepo struct {
	mu sync.RWMutex
	s  *model.Settings
}

func NewSettingsRepo() *SettingsRepo { return &SettingsRepo{} }

func (r *SettingsRepo) Get(_ context.Context, _ repository.Tx) (*model.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.s == nil {
		d := model.DefaultSettings()
		return &d, nil
	}
	cp := *r.s
	return &cp, nil
}

func (r *SettingsRepo) Save(_ context.Context, _ repository.Tx, s *model.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.s = &cp
	return nil
}

// ---- conversation logs ----

type LogRepo struct {
	mu    sync.RWMutex
	items []*model.ConversationLog
}

func NewLogRepo() *LogRepo { return &LogRepo{} }

func cloneLog(l *model.ConversationLog) *model.ConversationLog {
	cp := *l
	if l.TaskID != nil {
		id := *l.TaskID
		cp.TaskID = &id
	}
	return &cp
}

func (r *LogRepo) Append(_ context.Context, _ repository.Tx, l *model.ConversationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, cloneLog(l))
	return nil
}

func (r *LogRepo) List(_ context.Context, _ repository.Tx) ([]*model.ConversationLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.ConversationLog, 0, len(r.items))
	for _, l := range r.items {
		out = append(out, cloneLog(l))
	}
	return out, nil
}

func (r *LogRepo) UpdateStatusByTask(_ context.Context, taskID string, status model.LogStatus, cost *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, l := range r.items {
		if l.TaskID != nil && *l.TaskID == taskID {
			l.Status = status
			if cost != nil {
				l.Cost = *cost
			}
			found = true
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LogRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	removed := 0
	for _, l := range r.items {
		if l.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	r.items = kept
	return removed, nil
}

func (r *LogRepo) ReplaceAll(_ context.Context, _ repository.Tx, logs []*model.ConversationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make([]*model.ConversationLog, 0, len(logs))
	for _, l := range logs {
		r.items = append(r.items, cloneLog(l))
	}
	return nil
}

// ---- file snapshot ----

type FileRepo struct {
	mu    sync.RWMutex
	files map[string]string
}

func NewFileRepo() *FileRepo { return &FileRepo{files: map[string]string{}} }

func (r *FileRepo) GetAll(_ context.Context, _ repository.Tx) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.CloneFiles(r.files), nil
}

func (r *FileRepo) Apply(_ context.Context, edits []model.FileEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	model.ApplyEdits(r.files, edits)
	return nil
}

func (r *FileRepo) ReplaceAll(_ context.Context, _ repository.Tx, files map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = model.CloneFiles(files)
	return nil
}

// ---- cost ledger ----

type CostRepo struct {
	mu      sync.RWMutex
	entries []model.CostEntry
}

func NewCostRepo() *CostRepo { return &CostRepo{} }

func (r *CostRepo) Append(_ context.Context, _ repository.Tx, entries ...model.CostEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *CostRepo) List(_ context.Context, _ repository.Tx) ([]model.CostEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.CostEntry(nil), r.entries...), nil
}

func (r *CostRepo) Total(_ context.Context, _ repository.Tx) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.SumCost(r.entries), nil
}

func (r *CostRepo) ReplaceAll(_ context.Context, _ repository.Tx, entries []model.CostEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]model.CostEntry(nil), entries...)
	return nil
}
