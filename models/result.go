package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ViolationType is the closed violation taxonomy. The set is fixed per
// deployment; task strategies select a subset of it.
type ViolationType string

const (
	ViolationPorn      ViolationType = "涉黄"
	ViolationPolitics  ViolationType = "涉政"
	ViolationViolence  ViolationType = "暴力"
	ViolationAds       ViolationType = "广告"
	ViolationBanned    ViolationType = "违禁词"
	ViolationTerrorism ViolationType = "恐怖主义"
	ViolationGambling  ViolationType = "赌博"
	ViolationDrugs     ViolationType = "毒品"
)

// AllViolationTypes lists the taxonomy in a stable order.
func AllViolationTypes() []ViolationType {
	return []ViolationType{
		ViolationPorn, ViolationPolitics, ViolationViolence, ViolationAds,
		ViolationBanned, ViolationTerrorism, ViolationGambling, ViolationDrugs,
	}
}

func (v ViolationType) Valid() bool {
	switch v {
	case ViolationPorn, ViolationPolitics, ViolationViolence, ViolationAds,
		ViolationBanned, ViolationTerrorism, ViolationGambling, ViolationDrugs:
		return true
	}
	return false
}

// ForcedReview reports whether findings of this type always require human
// adjudication regardless of confidence.
func (v ViolationType) ForcedReview() bool {
	return v == ViolationPolitics || v == ViolationTerrorism
}

type SourceType string

const (
	SourceOCR      SourceType = "ocr"
	SourceVision   SourceType = "vision"
	SourceLanguage SourceType = "language"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceOCR, SourceVision, SourceLanguage:
		return true
	}
	return false
}

type ReviewVerdict string

const (
	VerdictConfirmed ReviewVerdict = "confirmed"
	VerdictRejected  ReviewVerdict = "rejected"
	VerdictModified  ReviewVerdict = "modified"
)

func (v ReviewVerdict) Valid() bool {
	switch v {
	case VerdictConfirmed, VerdictRejected, VerdictModified:
		return true
	}
	return false
}

type PositionKind string

const (
	PositionPage      PositionKind = "page"
	PositionTimestamp PositionKind = "timestamp"
)

// Position locates a finding inside its file: a page with an optional
// bounding box for documents and images, or a timestamp for videos. Exactly
// one variant is populated, selected by Kind.
type Position struct {
	Kind PositionKind `json:"kind"`

	// Page variant.
	Page int       `json:"page,omitempty"`
	BBox []float64 `json:"bbox,omitempty"`

	// Timestamp variant, seconds from the start of the video.
	Seconds float64 `json:"seconds,omitempty"`
}

func PagePosition(page int, bbox []float64) Position {
	return Position{Kind: PositionPage, Page: page, BBox: bbox}
}

func TimestampPosition(seconds float64) Position {
	return Position{Kind: PositionTimestamp, Seconds: seconds}
}

// Ordinal maps both variants onto one ascending axis for sorting: page number
// for documents, seconds for videos.
func (p Position) Ordinal() float64 {
	if p.Kind == PositionTimestamp {
		return p.Seconds
	}
	return float64(p.Page)
}

func (p Position) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Position) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Position", value)
	}
	return json.Unmarshal(data, p)
}

func (Position) GormDataType() string {
	return "jsonb"
}

// ReviewResult is one confidence-scored finding. Rows are created only by the
// aggregator and are append-only per file; only the review_* fields are
// mutated afterwards, by the review router.
type ReviewResult struct {
	Base
	FileID uuid.UUID `gorm:"type:uuid;not null;index" json:"file_id"`

	ViolationType ViolationType `gorm:"type:varchar(20);not null;index" json:"violation_type"`
	SourceType    SourceType    `gorm:"type:varchar(20);not null" json:"source_type"`
	Confidence    float64       `gorm:"not null" json:"confidence"`
	Evidence      string        `gorm:"type:text" json:"evidence"`
	Position      Position      `gorm:"type:jsonb" json:"position"`

	ModelName    string         `gorm:"size:100" json:"model_name"`
	ModelVersion string         `gorm:"size:50" json:"model_version"`
	RawResponse  datatypes.JSON `gorm:"type:jsonb" json:"raw_response"`

	IsReviewed    bool          `gorm:"default:false;index" json:"is_reviewed"`
	ReviewerID    string        `gorm:"size:100" json:"reviewer_id"`
	Verdict       ReviewVerdict `gorm:"column:review_result;type:varchar(20)" json:"review_result"`
	ReviewComment string        `gorm:"type:text" json:"review_comment"`
	ReviewTime    *time.Time    `json:"review_time"`
}

func (ReviewResult) TableName() string {
	return "review_results"
}
