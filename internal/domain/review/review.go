// Package review defines the domain types for multi-reviewer verification:
// findings, first-pass batches, cross-grade verdicts and the synthesized
// report.
package review

import "time"

// Severity classifies a finding. Ordering is Critical > Major > Minor > Nit.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityNit      Severity = "nit"
)

// Rank returns the sort weight of a severity; higher sorts first. Unknown
// severities rank below Nit.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityMajor:
		return 3
	case SeverityMinor:
		return 2
	case SeverityNit:
		return 1
	}
	return 0
}

// Finding is a single reviewer-reported issue.
type Finding struct {
	ID          string   `json:"id"`
	ReviewerID  string   `json:"reviewer_id"`
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line,omitempty"` // 0 means single line
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// ReviewerStatus is the per-participant outcome of a fan-out pass.
type ReviewerStatus string

const (
	ReviewerOK      ReviewerStatus = "ok"
	ReviewerTimeout ReviewerStatus = "timeout"
	ReviewerFailure ReviewerStatus = "failure"
)

// ReviewerResult is one reviewer's first-pass output plus status.
type ReviewerResult struct {
	ReviewerID string         `json:"reviewer_id"`
	Status     ReviewerStatus `json:"status"`
	Findings   []Finding      `json:"findings,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Batch is the set of finding lists produced by all dispatched reviewers for
// one changeset, plus per-reviewer status.
type Batch struct {
	ChangesetID string           `json:"changeset_id"`
	Results     []ReviewerResult `json:"results"`
}

// Responding returns the IDs of reviewers that completed the first pass.
func (b *Batch) Responding() []string {
	var ids []string
	for i := range b.Results {
		if b.Results[i].Status == ReviewerOK {
			ids = append(ids, b.Results[i].ReviewerID)
		}
	}
	return ids
}

// Partial reports whether any dispatched reviewer failed to respond.
func (b *Batch) Partial() bool {
	for i := range b.Results {
		if b.Results[i].Status != ReviewerOK {
			return true
		}
	}
	return false
}

// Verdict classifies a foreign finding during cross-grading.
type Verdict string

const (
	VerdictValid         Verdict = "valid"
	VerdictFalsePositive Verdict = "false_positive"
	VerdictDuplicateOf   Verdict = "duplicate_of"
)

// Grade is one cross-grade judgement: grader's verdict on a foreign finding.
type Grade struct {
	GraderID    string  `json:"grader_id"`
	FindingID   string  `json:"finding_id"`
	Verdict     Verdict `json:"verdict"`
	DuplicateOf string  `json:"duplicate_of,omitempty"` // set when Verdict == duplicate_of
}

// CrossGradeResult is one grader's full second-pass output: verdicts on
// every foreign finding plus any additionally discovered issues.
type CrossGradeResult struct {
	GraderID   string    `json:"grader_id"`
	Grades     []Grade   `json:"grades,omitempty"`
	Additional []Finding `json:"additional,omitempty"`
}

// Coverage flags whether every dispatched reviewer contributed.
type Coverage string

const (
	CoverageFull    Coverage = "full"
	CoveragePartial Coverage = "partial"
)

// Entry is one deduplicated issue in the synthesized report. It keeps the
// highest severity observed in its equivalence class and a merged
// suggestion.
type Entry struct {
	Finding
	// Contributors lists every reviewer whose finding was folded into this
	// entry, sorted.
	Contributors []string `json:"contributors"`
}

// Report is the deduplicated, severity-then-location-ordered sequence of
// findings for one changeset.
type Report struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	ChangesetID string    `json:"changeset_id"`
	Coverage    Coverage  `json:"coverage"`
	Entries     []Entry   `json:"entries"`
	CreatedAt   time.Time `json:"created_at"`
}
