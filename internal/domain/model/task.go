package model

import "time"

type TaskType string

const (
	TaskTypeCodeGeneration TaskType = "code_generation"
	TaskTypeErrorFix       TaskType = "error_fix"
	TaskTypeReview         TaskType = "review"
	TaskTypeTestGeneration TaskType = "test_generation"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeCodeGeneration, TaskTypeErrorFix, TaskTypeReview, TaskTypeTestGeneration:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for admission; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// Terminal reports whether no further automatic transition can happen.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusSkipped
}

// Admissible reports whether the scheduler may pick the task up.
func (s TaskStatus) Admissible() bool {
	return s == TaskStatusPending || s == TaskStatusQueued
}

type FileAction string

const (
	FileActionCreate FileAction = "create"
	FileActionModify FileAction = "modify"
	FileActionDelete FileAction = "delete"
)

// FileEdit is a whole-file replacement (or removal) for one path.
type FileEdit struct {
	Path     string     `json:"path"`
	Content  string     `json:"content"`
	Action   FileAction `json:"action"`
	Language string     `json:"language"`
}

type TaskInput struct {
	UserMessage       string            `json:"user_message"`
	AssistantResponse string            `json:"assistant_response"`
	ExistingFiles     map[string]string `json:"existing_files"`
}

type TaskOutput struct {
	Summary      string     `json:"summary"`
	Files        []FileEdit `json:"files"`
	Commands     []string   `json:"commands"`
	GitMessage   string     `json:"git_message"`
	Cost         float64    `json:"cost"`
	Model        string     `json:"model"`
	IsCodingTask bool       `json:"is_coding_task"`
	Questions    *string    `json:"questions"`
}

type RetryEntry struct {
	Attempt   int       `json:"attempt"`
	ModelID   string    `json:"model_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type Task struct {
	ID                string       `json:"id"`
	Type              TaskType     `json:"type"`
	Priority          Priority     `json:"priority"`
	Status            TaskStatus   `json:"status"`
	Input             TaskInput    `json:"input"`
	Output            *TaskOutput  `json:"output"`
	RetryCount        int          `json:"retry_count"`
	MaxRetries        int          `json:"max_retries"`
	CurrentModelIndex int          `json:"current_model_index"`
	CreatedAt         time.Time    `json:"created_at"`
	StartedAt         *time.Time   `json:"started_at"`
	CompletedAt       *time.Time   `json:"completed_at"`
	Error             *string      `json:"error"`
	RetryHistory      []RetryEntry `json:"retry_history"`
	ParentTaskID      *string      `json:"parent_task_id"`
	ChildTaskIDs      []string     `json:"child_task_ids"`
}

// Clone returns a deep copy so callers never share maps or slices with a repository.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Input.ExistingFiles = CloneFiles(t.Input.ExistingFiles)
	if t.Output != nil {
		out := *t.Output
		out.Files = append([]FileEdit(nil), t.Output.Files...)
		out.Commands = append([]string(nil), t.Output.Commands...)
		if t.Output.Questions != nil {
			q := *t.Output.Questions
			out.Questions = &q
		}
		cp.Output = &out
	}
	cp.StartedAt = cloneTime(t.StartedAt)
	cp.CompletedAt = cloneTime(t.CompletedAt)
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	if t.ParentTaskID != nil {
		p := *t.ParentTaskID
		cp.ParentTaskID = &p
	}
	cp.RetryHistory = append([]RetryEntry(nil), t.RetryHistory...)
	cp.ChildTaskIDs = append([]string(nil), t.ChildTaskIDs...)
	return &cp
}

func CloneFiles(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ApplyEdits merges edits into files in order. Deletes remove the key, everything else overwrites.
func ApplyEdits(files map[string]string, edits []FileEdit) {
	for _, e := range edits {
		if e.Action == FileActionDelete {
			delete(files, e.Path)
			continue
		}
		files[e.Path] = e.Content
	}
}

func StringPtr(s string) *string { return &s }
