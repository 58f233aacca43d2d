// Package planfile implements the plan artifact port as a single markdown
// document at a fixed, well-known location. The body is rewritten only by the
// planner; lifecycle markers are prepended as greppable status lines and are
// never removed.
package planfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwaldron/foreman/internal/domain/plan"
)

const statusPrefix = "PLAN-STATUS:"

// Document persists plans as one markdown file per workspace.
type Document struct {
	path string
}

// New creates a Document rooted at the given file path.
func New(path string) *Document {
	return &Document{path: path}
}

// Path returns the fixed location of the plan document. Every plan of a
// workspace shares the same well-known path.
func (d *Document) Path(string) string {
	return d.path
}

// Persist writes the full plan document, replacing any previous content.
// Existing status lines are carried over: markers outlive body rewrites.
func (d *Document) Persist(_ context.Context, p *plan.Plan) error {
	statusLines := readStatusLines(d.path)

	var b strings.Builder
	for _, line := range statusLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(renderBody(p))

	return writeAtomic(d.path, []byte(b.String()))
}

// Stamp prepends one marker line to the document. Prior status lines and the
// body are untouched; a revision stamp never removes a completion stamp.
func (d *Document) Stamp(ctx context.Context, p *plan.Plan, m plan.Marker) error {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		if err := d.Persist(ctx, p); err != nil {
			return err
		}
		data, err = os.ReadFile(d.path)
		if err != nil {
			return fmt.Errorf("read plan document: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read plan document: %w", err)
	}

	line := markerLine(m)
	return writeAtomic(d.path, append([]byte(line+"\n"), data...))
}

func markerLine(m plan.Marker) string {
	status := "REVISED"
	if m.Kind == plan.MarkerImplemented {
		status = "COMPLETE"
	}
	line := fmt.Sprintf("%s %s %s", statusPrefix, status, m.At.UTC().Format(time.RFC3339))
	if m.Note != "" {
		line += " — " + strings.ReplaceAll(m.Note, "\n", " ")
	}
	return line
}

// readStatusLines returns the leading PLAN-STATUS lines of the current
// document, newest first as stored.
func readStatusLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, statusPrefix) {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

func renderBody(p *plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan %s (v%d)\n\n", p.ID, p.Version)
	fmt.Fprintf(&b, "Workflow: %s\nTask: %s\n\n", p.WorkflowID, p.TaskID)

	if len(p.Assumptions) > 0 {
		b.WriteString("## Assumptions\n\n")
		for _, a := range p.Assumptions {
			if a.ConfirmedBy != "" {
				fmt.Fprintf(&b, "- %s (confirmed by %s)\n", a.Text, a.ConfirmedBy)
			} else {
				fmt.Fprintf(&b, "- %s\n", a.Text)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Steps\n\n")
	for i := range p.Steps {
		st := &p.Steps[i]
		marker := "[ ]"
		if st.Status == plan.StepStatusCompleted {
			marker = "[x]"
		}
		fmt.Fprintf(&b, "- %s %s\n", marker, st.Description)
		if len(st.Writes) > 0 {
			fmt.Fprintf(&b, "  - writes: %s\n", strings.Join(st.Writes, ", "))
		}
	}
	return b.String()
}

// writeAtomic writes via a temp file and rename so readers never observe a
// half-written document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plan dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".plan-*")
	if err != nil {
		return fmt.Errorf("create temp plan file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write plan document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close plan document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace plan document: %w", err)
	}
	return nil
}
