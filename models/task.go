package models

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ReviewTask is one moderation job spanning many files under a single
// strategy. It owns its files; deleting a task cascades to files and results.
type ReviewTask struct {
	Base
	Name        string `gorm:"size:200;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	// Strategy: subset of the violation taxonomy plus free-text rules passed
	// through to the scorers unmodified.
	StrategyTypes datatypes.JSONSlice[ViolationType] `gorm:"type:jsonb" json:"strategy_types"`
	StrategyRules string                             `gorm:"type:text" json:"strategy_rules"`

	// Video sampling interval in seconds.
	FrameInterval int `gorm:"default:5" json:"frame_interval"`

	Status       TaskStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Progress     int        `gorm:"default:0" json:"progress"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`

	TotalFiles     int `gorm:"default:0" json:"total_files"`
	ProcessedFiles int `gorm:"default:0" json:"processed_files"`
	ViolationCount int `gorm:"default:0" json:"violation_count"`

	CreatorID string `gorm:"size:100" json:"creator_id"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Files []ReviewFile `gorm:"foreignKey:TaskID" json:"files,omitempty"`
}

func (ReviewTask) TableName() string {
	return "review_tasks"
}

// ComputeProgress returns round(100 * processed / total), 0 for empty tasks.
func ComputeProgress(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
