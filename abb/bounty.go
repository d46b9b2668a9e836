package abb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentbounties/agent-bounty-board/payment"
)

// BountyStatus is the lifecycle state of a bounty. completed, cancelled,
// and refunded are terminal.
type BountyStatus string

const (
	BountyStatusDraft      BountyStatus = "draft"
	BountyStatusOpen       BountyStatus = "open"
	BountyStatusInProgress BountyStatus = "in_progress"
	BountyStatusCompleted  BountyStatus = "completed"
	BountyStatusExpired    BountyStatus = "expired"
	BountyStatusCancelled  BountyStatus = "cancelled"
	BountyStatusRefunded   BountyStatus = "refunded"
)

// SubmissionStatus is the lifecycle state of a submission. failed,
// superseded, and expired are terminal; passed is terminal once the bounty
// has a winner.
type SubmissionStatus string

const (
	SubmissionStatusPending    SubmissionStatus = "pending"
	SubmissionStatusValidating SubmissionStatus = "validating"
	SubmissionStatusPassed     SubmissionStatus = "passed"
	SubmissionStatusFailed     SubmissionStatus = "failed"
	SubmissionStatusSuperseded SubmissionStatus = "superseded"
	SubmissionStatusExpired    SubmissionStatus = "expired"
)

// PaymentStatus tracks whether a winning submission has been paid.
type PaymentStatus string

const (
	PaymentStatusNone PaymentStatus = "none"
	PaymentStatusPaid PaymentStatus = "paid"
)

// CriteriaType discriminates the criteria and payload unions.
type CriteriaType string

const (
	CriteriaTypeCode    CriteriaType = "code"
	CriteriaTypeData    CriteriaType = "data"
	CriteriaTypeContent CriteriaType = "content"
	CriteriaTypeURL     CriteriaType = "url"
)

// TestCase is one input/output pair the code validator runs a submission
// against. Stdin is piped to the program and trimmed stdout is compared to
// the trimmed expected output.
type TestCase struct {
	Name     string `json:"name,omitempty"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// CodeCriteria describes an executable-code bounty.
type CodeCriteria struct {
	Language      string     `json:"language"`
	RequiredFiles []string   `json:"required_files,omitempty"`
	TestCases     []TestCase `json:"test_cases,omitempty"`
	TimeoutMs     int64      `json:"timeout_ms,omitempty"`
	MemoryMB      int64      `json:"memory_mb,omitempty"`
	AllowNetwork  bool       `json:"allow_network,omitempty"`
}

// FieldConstraint restricts the values of one column in a data submission.
type FieldConstraint struct {
	Column  string   `json:"column"`
	Type    string   `json:"type,omitempty"`    // "string", "number", "bool"
	Pattern string   `json:"pattern,omitempty"` // regexp the value must match
	Enum    []string `json:"enum,omitempty"`
	// Expression is a JMESPath predicate evaluated against each row; a row
	// is a violation when the expression is falsy.
	Expression string `json:"expression,omitempty"`
}

// DataCriteria describes a structured-data bounty.
type DataCriteria struct {
	Format          string            `json:"format"` // only "json" is supported
	MinRows         int               `json:"min_rows,omitempty"`
	MaxRows         int               `json:"max_rows,omitempty"`
	RequiredColumns []string          `json:"required_columns,omitempty"`
	// UniqueColumns declares a zero-duplicate policy on the named key
	// columns: any duplicate composite key fails the uniqueness check.
	// Leave empty to skip uniqueness entirely.
	UniqueColumns []string `json:"unique_columns,omitempty"`
	MaxNullPercent  float64           `json:"max_null_percent,omitempty"`
	Constraints     []FieldConstraint `json:"constraints,omitempty"`
}

// ContentCriteria describes a prose/markdown bounty.
type ContentCriteria struct {
	Format           string   `json:"format"` // "markdown" or "text"
	MinWords         int      `json:"min_words,omitempty"`
	MaxWords         int      `json:"max_words,omitempty"`
	RequiredSections []string `json:"required_sections,omitempty"`
	MustContain      []string `json:"must_contain,omitempty"`
	MustNotContain   []string `json:"must_not_contain,omitempty"`
	PlagiarismCheck  bool     `json:"plagiarism_check,omitempty"`
}

// EndpointProbe is one HTTP check the URL validator performs against a
// submitted deployment.
type EndpointProbe struct {
	Path           string `json:"path"`
	Method         string `json:"method,omitempty"` // default GET
	ExpectedStatus int    `json:"expected_status"`
	BodyContains   string `json:"body_contains,omitempty"`
	MaxLatencyMs   int64  `json:"max_latency_ms,omitempty"`
}

// URLCriteria describes a deployed-service bounty.
type URLCriteria struct {
	RequireHTTPS bool            `json:"require_https"`
	Probes       []EndpointProbe `json:"probes,omitempty"`
}

// Criteria is a closed tagged union over the bounty types. Exactly one
// variant pointer is non-nil, selected by Type.
type Criteria struct {
	Type        CriteriaType     `json:"type"`
	Description string           `json:"description,omitempty"`
	Code        *CodeCriteria    `json:"code,omitempty"`
	Data        *DataCriteria    `json:"data,omitempty"`
	Content     *ContentCriteria `json:"content,omitempty"`
	URL         *URLCriteria     `json:"url,omitempty"`
}

// Validate checks that the criteria carries exactly the variant its type
// declares.
func (c *Criteria) Validate() error {
	variants := 0
	if c.Code != nil {
		variants++
	}
	if c.Data != nil {
		variants++
	}
	if c.Content != nil {
		variants++
	}
	if c.URL != nil {
		variants++
	}
	if variants != 1 {
		return fmt.Errorf("criteria must carry exactly one variant, has %d", variants)
	}
	switch c.Type {
	case CriteriaTypeCode:
		if c.Code == nil {
			return fmt.Errorf("criteria type %q missing code variant", c.Type)
		}
	case CriteriaTypeData:
		if c.Data == nil {
			return fmt.Errorf("criteria type %q missing data variant", c.Type)
		}
	case CriteriaTypeContent:
		if c.Content == nil {
			return fmt.Errorf("criteria type %q missing content variant", c.Type)
		}
	case CriteriaTypeURL:
		if c.URL == nil {
			return fmt.Errorf("criteria type %q missing url variant", c.Type)
		}
	default:
		return fmt.Errorf("unknown criteria type %q", c.Type)
	}
	return nil
}

// Payload is the submission-side union mirroring Criteria. Exactly one
// field is populated, matching the bounty's criteria type.
type Payload struct {
	// Code is the program source for code bounties.
	Code string `json:"code,omitempty"`
	// Files are auxiliary files accompanying a code submission.
	Files map[string]string `json:"files,omitempty"`
	// Data is the raw JSON document for data bounties.
	Data json.RawMessage `json:"data,omitempty"`
	// Content is the prose body for content bounties.
	Content string `json:"content,omitempty"`
	// URL is the deployment base URL for url bounties.
	URL string `json:"url,omitempty"`
}

// Bounty is an escrowed task with machine-checkable acceptance criteria.
// Mutated only by the winner resolver and escrow lifecycle events.
type Bounty struct {
	ID                 string          `json:"id" db:"id"`
	PosterID           string          `json:"poster_id" db:"poster_id"`
	Title              string          `json:"title" db:"title"`
	Description        string          `json:"description" db:"description"`
	Criteria           Criteria        `json:"criteria" db:"-"`
	Amount             *payment.Amount `json:"amount" db:"-"`
	FeeBPS             int64           `json:"fee_bps" db:"fee_bps"`
	PaymentProvider    string          `json:"payment_provider" db:"payment_provider"`
	Deadline           time.Time       `json:"deadline" db:"deadline"`
	Status             BountyStatus    `json:"status" db:"status"`
	WinnerSubmissionID string          `json:"winner_submission_id,omitempty" db:"winner_submission_id"`
	WinnerAgentID      string          `json:"winner_agent_id,omitempty" db:"winner_agent_id"`
	SubmissionCount    int             `json:"submission_count" db:"submission_count"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// WinnerPayout is the net amount a winner receives after the platform fee.
func (b *Bounty) WinnerPayout() *payment.Amount {
	if b.Amount == nil {
		return payment.Zero()
	}
	return b.Amount.Sub(b.Amount.Fee(b.FeeBPS))
}

// Terminal reports whether the bounty can no longer change state.
func (s BountyStatus) Terminal() bool {
	switch s {
	case BountyStatusCompleted, BountyStatusCancelled, BountyStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether the submission can no longer change state.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusFailed, SubmissionStatusSuperseded, SubmissionStatusExpired:
		return true
	}
	return false
}

// Submission is one agent's single attempt at a bounty. The payload is
// immutable once received; only status, validation, and payment fields are
// updated afterward.
type Submission struct {
	ID               string            `json:"id" db:"id"`
	BountyID         string            `json:"bounty_id" db:"bounty_id"`
	AgentID          string            `json:"agent_id" db:"agent_id"`
	Payload          Payload           `json:"payload" db:"-"`
	ReceivedAt       time.Time         `json:"received_at" db:"received_at"`
	Status           SubmissionStatus  `json:"status" db:"status"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty" db:"-"`
	PaymentStatus    PaymentStatus     `json:"payment_status" db:"payment_status"`
	PaymentReference string            `json:"payment_reference,omitempty" db:"payment_reference"`
}

// ValidationCheck is one named pass/fail outcome within a validation run.
// Append-only; never mutated once recorded.
type ValidationCheck struct {
	Name    string      `json:"name"`
	Passed  bool        `json:"passed"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// QualityAssessment is the judge's holistic verdict layered atop the
// mechanical checks.
type QualityAssessment struct {
	Passed    bool   `json:"passed"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// ValidationResult is the immutable outcome of validating one submission.
// Re-running validation produces a new result rather than patching this
// one.
type ValidationResult struct {
	Passed            bool               `json:"passed"`
	Score             int                `json:"score"`
	Checks            []ValidationCheck  `json:"checks"`
	QualityAssessment *QualityAssessment `json:"quality_assessment,omitempty"`
	Error             string             `json:"error,omitempty"`
	ValidatedAt       time.Time          `json:"validated_at"`
	DurationMs        int64              `json:"duration_ms"`
}

// clampScore bounds a score to [0,100] after all deductions.
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
