package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrJobNotFound   = errors.New("import job not found")
	ErrClaimNotFound = errors.New("claim not found")
)

// Category is the normalized report category derived from the filename.
type Category string

const (
	CategoryOutpatient          Category = "outpatient"
	CategoryInpatient           Category = "inpatient"
	CategoryReferral            Category = "referral"
	CategoryAppeal              Category = "appeal"
	CategoryAppealReviewed      Category = "appeal-reviewed"
	CategoryOutpatientLGO       Category = "outpatient-lgo"
	CategoryInpatientLGO        Category = "inpatient-lgo"
	CategoryOutpatientSSS       Category = "outpatient-sss"
	CategoryInpatientSSS        Category = "inpatient-sss"
	CategoryStatementOutpatient Category = "statement-outpatient"
	CategoryStatementInpatient  Category = "statement-inpatient"
)

var allCategories = []Category{
	CategoryOutpatient,
	CategoryInpatient,
	CategoryReferral,
	CategoryAppeal,
	CategoryAppealReviewed,
	CategoryOutpatientLGO,
	CategoryInpatientLGO,
	CategoryOutpatientSSS,
	CategoryInpatientSSS,
	CategoryStatementOutpatient,
	CategoryStatementInpatient,
}

func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Inpatient reports whether claims of this category are admissions keyed by AN.
func (c Category) Inpatient() bool {
	switch c {
	case CategoryInpatient, CategoryAppeal, CategoryAppealReviewed,
		CategoryInpatientLGO, CategoryInpatientSSS, CategoryStatementInpatient:
		return true
	}
	return false
}

func (c Category) Statement() bool {
	return c == CategoryStatementOutpatient || c == CategoryStatementInpatient
}

// JobStatus is the lifecycle state of an ImportJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobPartial    JobStatus = "partial"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobPartial
}

// ReconcileStatus is the verdict stored on a claim row.
type ReconcileStatus string

const (
	ReconcilePending    ReconcileStatus = "pending"
	ReconcileMatched    ReconcileStatus = "matched"
	ReconcileMismatched ReconcileStatus = "mismatched"
	ReconcileManual     ReconcileStatus = "manual"
)

// ImportJob tracks one source file through the pipeline. Filename is unique.
type ImportJob struct {
	ID              uuid.UUID  `json:"id"`
	Filename        string     `json:"filename"`
	Category        Category   `json:"category"`
	FacilityCode    string     `json:"facility_code"`
	ReportDate      time.Time  `json:"report_date"`
	SequenceID      string     `json:"sequence_id"`
	Status          JobStatus  `json:"status"`
	FileChecksum    string     `json:"file_checksum"`
	TotalRows       int        `json:"total_rows"`
	ImportedRows    int        `json:"imported_rows"`
	FailedRows      int        `json:"failed_rows"`
	SkippedRows     int        `json:"skipped_rows"`
	TruncatedCells  int        `json:"truncated_cells"`
	UnmappedHeaders []string   `json:"unmapped_headers"`
	Warnings        []string   `json:"warnings"`
	LowConfidence   bool       `json:"low_confidence"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Claim is the reconciliation view of a loaded claim row.
type Claim struct {
	ID          int64
	Table       Table
	Category    Category
	TranID      string
	HN          string
	AN          string
	PID         string
	ServiceDate *time.Time
	Amount      decimal.Decimal
	Status      ReconcileStatus
	RowVersion  int64
}

// Counterpart is a record from the other side of a reconciliation: a payment
// statement line or a hospital system row.
type Counterpart struct {
	Ref         string
	HN          string
	AN          string
	PID         string
	ServiceDate *time.Time
	Amount      decimal.Decimal
}

// Verdict is the outcome of matching a single claim.
type Verdict struct {
	ClaimID int64
	Table   Table
	TranID  string
	Status  ReconcileStatus
	Tier    int
	Ref     string
	Delta   decimal.NullDecimal
	Note    string
}
