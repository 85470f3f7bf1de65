package models

import (
	"time"

	"github.com/google/uuid"
)

type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
)

func (t FileType) Valid() bool {
	switch t {
	case FileTypeDocument, FileTypeImage, FileTypeVideo:
		return true
	}
	return false
}

type FileStatus string

const (
	FileStatusPending     FileStatus = "pending"
	FileStatusExtracting  FileStatus = "extracting"
	FileStatusScoring     FileStatus = "scoring"
	FileStatusAggregating FileStatus = "aggregating"
	FileStatusCompleted   FileStatus = "completed"
	FileStatusFailed      FileStatus = "failed"
	FileStatusCancelled   FileStatus = "cancelled"
)

func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusPending, FileStatusExtracting, FileStatusScoring,
		FileStatusAggregating, FileStatusCompleted, FileStatusFailed, FileStatusCancelled:
		return true
	}
	return false
}

func (s FileStatus) Terminal() bool {
	switch s {
	case FileStatusCompleted, FileStatusFailed, FileStatusCancelled:
		return true
	}
	return false
}

// ReviewFile is one uploaded file owned by a task. It is driven through the
// extract/score/aggregate stages by the file processor and never re-enters an
// earlier state once terminal.
type ReviewFile struct {
	Base
	TaskID uuid.UUID `gorm:"type:uuid;not null;index" json:"task_id"`

	OriginalName  string   `gorm:"size:500;not null" json:"original_name"`
	FilePath      string   `gorm:"size:1000;not null" json:"file_path"`
	FileType      FileType `gorm:"type:varchar(20);not null" json:"file_type"`
	FileSize      int64    `gorm:"not null" json:"file_size"`
	MimeType      string   `gorm:"size:100" json:"mime_type"`
	FileExtension string   `gorm:"size:10" json:"file_extension"`

	// MD5 of the file content, used for dedup.
	ContentHash string `gorm:"size:64;index" json:"content_hash"`

	// Pages for documents, sampled frames for videos.
	PageCount int `json:"page_count"`
	// Video duration in seconds.
	Duration int `json:"duration"`

	Status       FileStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Progress     int        `gorm:"default:0" json:"progress"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`

	OCRBlocks      int `gorm:"column:ocr_blocks_count;default:0" json:"ocr_blocks_count"`
	TextBlocks     int `gorm:"column:text_blocks_count;default:0" json:"text_blocks_count"`
	ImageBlocks    int `gorm:"column:image_blocks_count;default:0" json:"image_blocks_count"`
	ViolationCount int `gorm:"default:0" json:"violation_count"`

	ProcessedAt *time.Time `json:"processed_at"`

	Results []ReviewResult `gorm:"foreignKey:FileID" json:"results,omitempty"`
}

func (ReviewFile) TableName() string {
	return "review_files"
}
