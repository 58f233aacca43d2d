// Package staticreview implements a deterministic rule-based reviewer
// backend. It scans the lines a changeset adds and reports pattern findings;
// the same snapshot always yields the same findings.
package staticreview

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/port/reviewer"
)

const backendName = "static"

// rule is one pattern check applied to added lines.
type rule struct {
	name     string
	severity review.Severity
	match    func(line string) bool
	message  string
	fix      string
}

var rules = []rule{
	{
		name:     "todo",
		severity: review.SeverityMinor,
		match:    func(l string) bool { return strings.Contains(l, "TODO") || strings.Contains(l, "FIXME") },
		message:  "added line carries an unresolved TODO/FIXME",
		fix:      "resolve the item or file a tracked issue before merging",
	},
	{
		name:     "debug-print",
		severity: review.SeverityMinor,
		match: func(l string) bool {
			return strings.Contains(l, "fmt.Println(") || strings.Contains(l, "console.log(")
		},
		message: "debug print left in added code",
		fix:     "remove the print or route it through the logger",
	},
	{
		name:     "panic",
		severity: review.SeverityMajor,
		match:    func(l string) bool { return strings.Contains(l, "panic(") },
		message:  "added code panics instead of returning an error",
		fix:      "return an error to the caller",
	},
	{
		name:     "long-line",
		severity: review.SeverityNit,
		match:    func(l string) bool { return len(l) > 160 },
		message:  "added line exceeds 160 characters",
		fix:      "wrap the line",
	},
}

// Agent is the static reviewer backend.
type Agent struct {
	id string
}

// New creates a static reviewer. An "id" config entry overrides the default
// identifier so multiple instances can join one fan-out.
func New(config map[string]string) *Agent {
	id := backendName
	if v := config["id"]; v != "" {
		id = v
	}
	return &Agent{id: id}
}

// ID returns the reviewer identifier.
func (a *Agent) ID() string { return a.id }

// Review scans the snapshot diff's added lines against the rule set.
func (a *Agent) Review(ctx context.Context, snap reviewer.Snapshot) ([]review.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.scan(snap.Diff), nil
}

// CrossGrade judges every foreign finding. A finding the rule set reproduces
// at the same location is a duplicate of this reviewer's own; anything else
// is accepted as valid — the static rules cannot refute what they cannot see.
func (a *Agent) CrossGrade(ctx context.Context, snap reviewer.Snapshot, batch review.Batch) (review.CrossGradeResult, error) {
	if err := ctx.Err(); err != nil {
		return review.CrossGradeResult{}, err
	}

	own := make(map[string]string) // file:line -> own finding ID
	for _, f := range a.scan(snap.Diff) {
		own[locationKey(f.File, f.StartLine)] = f.ID
	}

	res := review.CrossGradeResult{GraderID: a.id}
	for _, r := range batch.Results {
		if r.ReviewerID == a.id {
			continue
		}
		for _, f := range r.Findings {
			grade := review.Grade{GraderID: a.id, FindingID: f.ID, Verdict: review.VerdictValid}
			if ownID, ok := own[locationKey(f.File, f.StartLine)]; ok {
				grade.Verdict = review.VerdictDuplicateOf
				grade.DuplicateOf = ownID
			}
			res.Grades = append(res.Grades, grade)
		}
	}
	return res, nil
}

// scan walks the unified diff, tracking post-image line numbers, and applies
// every rule to each added line. Finding IDs derive from the stable
// (reviewer, file, line, rule) location, never from a counter.
func (a *Agent) scan(diff string) []review.Finding {
	var (
		findings []review.Finding
		file     string
		line     int
	)
	for _, raw := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(raw, "+++ "):
			file = strings.TrimPrefix(raw, "+++ ")
			file = strings.TrimPrefix(file, "b/")
		case strings.HasPrefix(raw, "@@"):
			line = hunkStart(raw)
		case strings.HasPrefix(raw, "+"):
			text := raw[1:]
			for _, r := range rules {
				if r.match(text) {
					findings = append(findings, review.Finding{
						ID:          fmt.Sprintf("%s:%s:%d:%s", a.id, file, line, r.name),
						ReviewerID:  a.id,
						Severity:    r.severity,
						File:        file,
						StartLine:   line,
						Description: r.message,
						Suggestion:  r.fix,
					})
				}
			}
			line++
		case strings.HasPrefix(raw, "-"):
			// removed line: post-image line number unchanged
		default:
			line++
		}
	}
	return findings
}

// hunkStart extracts the post-image start line from a "@@ -a,b +c,d @@" header.
func hunkStart(header string) int {
	for _, part := range strings.Fields(header) {
		if !strings.HasPrefix(part, "+") {
			continue
		}
		num := strings.TrimPrefix(part, "+")
		if i := strings.IndexByte(num, ','); i >= 0 {
			num = num[:i]
		}
		if n, err := strconv.Atoi(num); err == nil {
			return n
		}
	}
	return 1
}

func locationKey(file string, line int) string {
	return file + ":" + strconv.Itoa(line)
}
