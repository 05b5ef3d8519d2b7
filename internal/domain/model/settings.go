package model

type ExecutionMode string

const (
	ExecutionModeManual   ExecutionMode = "manual"
	ExecutionModeSemiAuto ExecutionMode = "semi_auto"
	ExecutionModeFullAuto ExecutionMode = "full_auto"
)

func (m ExecutionMode) Valid() bool {
	switch m {
	case ExecutionModeManual, ExecutionModeSemiAuto, ExecutionModeFullAuto:
		return true
	}
	return false
}

// Settings is the persisted singleton. APIKey holds ciphertext at rest.
type Settings struct {
	APIKey               string        `json:"api_key"`
	DefaultModelIndex    int           `json:"default_model_index"`
	AutoUpgrade          bool          `json:"auto_upgrade"`
	MaxRetries           int           `json:"max_retries"`
	ExecutionMode        ExecutionMode `json:"execution_mode"`
	ProjectName          string        `json:"project_name"`
	NotificationsEnabled bool          `json:"notifications_enabled"`
	MaxConcurrentTasks   int           `json:"max_concurrent_tasks"`
	AutoCleanupDays      int           `json:"auto_cleanup_days"`
	BudgetLimit          float64       `json:"budget_limit"`
	UseBridge            bool          `json:"use_bridge"`
}

func DefaultSettings() Settings {
	return Settings{
		DefaultModelIndex:    0,
		AutoUpgrade:          true,
		MaxRetries:           5,
		ExecutionMode:        ExecutionModeManual,
		ProjectName:          "omnicoder-project",
		NotificationsEnabled: true,
		MaxConcurrentTasks:   3,
		AutoCleanupDays:      30,
		BudgetLimit:          15000,
		UseBridge:            false,
	}
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	APIKey               *string        `json:"api_key,omitempty"`
	DefaultModelIndex    *int           `json:"default_model_index,omitempty"`
	AutoUpgrade          *bool          `json:"auto_upgrade,omitempty"`
	MaxRetries           *int           `json:"max_retries,omitempty"`
	ExecutionMode        *ExecutionMode `json:"execution_mode,omitempty"`
	ProjectName          *string        `json:"project_name,omitempty"`
	NotificationsEnabled *bool          `json:"notifications_enabled,omitempty"`
	MaxConcurrentTasks   *int           `json:"max_concurrent_tasks,omitempty"`
	AutoCleanupDays      *int           `json:"auto_cleanup_days,omitempty"`
	BudgetLimit          *float64       `json:"budget_limit,omitempty"`
	UseBridge            *bool          `json:"use_bridge,omitempty"`
}

// Apply merges the patch into s. The api key is copied as given; callers encrypt it first.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.DefaultModelIndex != nil {
		s.DefaultModelIndex = ClampTierIndex(*p.DefaultModelIndex)
	}
	if p.AutoUpgrade != nil {
		s.AutoUpgrade = *p.AutoUpgrade
	}
	if p.MaxRetries != nil && *p.MaxRetries >= 0 {
		s.MaxRetries = *p.MaxRetries
	}
	if p.ExecutionMode != nil && p.ExecutionMode.Valid() {
		s.ExecutionMode = *p.ExecutionMode
	}
	if p.ProjectName != nil {
		s.ProjectName = *p.ProjectName
	}
	if p.NotificationsEnabled != nil {
		s.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.MaxConcurrentTasks != nil && *p.MaxConcurrentTasks > 0 {
		s.MaxConcurrentTasks = *p.MaxConcurrentTasks
	}
	if p.AutoCleanupDays != nil && *p.AutoCleanupDays > 0 {
		s.AutoCleanupDays = *p.AutoCleanupDays
	}
	if p.BudgetLimit != nil && *p.BudgetLimit >= 0 {
		s.BudgetLimit = *p.BudgetLimit
	}
	if p.UseBridge != nil {
		s.UseBridge = *p.UseBridge
	}
	return s
}
