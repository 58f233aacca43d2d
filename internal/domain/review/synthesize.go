package review

import (
	"sort"
	"strings"
)

// Synthesize folds all first-pass findings and cross-grade verdicts into one
// deduplicated, deterministically ordered report. The function is pure:
// identical inputs always yield identical grouping and ordering, with no
// dependency on wall-clock time or response arrival order.
//
// Findings join the same equivalence class when (a) they sit on the same
// file with overlapping or adjacent line ranges and their descriptions reach
// the similarity threshold, or (b) a cross-grade marked one duplicate-of the
// other, which folds regardless of threshold. A class unanimously graded
// false-positive by every grader who judged it is dropped.
func Synthesize(batch Batch, grades []CrossGradeResult, threshold float64) Report {
	findings := collectFindings(batch, grades)

	// Canonical order removes any dependence on arrival order.
	sort.Slice(findings, func(i, j int) bool {
		return findingLess(&findings[i], &findings[j])
	})

	uf := newUnionFind(len(findings))
	byID := make(map[string]int, len(findings))
	for i := range findings {
		byID[findings[i].ID] = i
	}

	// Cross-grade duplicate-of verdicts fold unconditionally.
	for _, gr := range grades {
		for _, g := range gr.Grades {
			if g.Verdict != VerdictDuplicateOf {
				continue
			}
			a, okA := byID[g.FindingID]
			b, okB := byID[g.DuplicateOf]
			if okA && okB {
				uf.union(a, b)
			}
		}
	}

	// Location + description similarity.
	for i := 0; i < len(findings); i++ {
		for j := i + 1; j < len(findings); j++ {
			a, b := &findings[i], &findings[j]
			if a.File != b.File {
				continue
			}
			if !linesOverlapOrAdjacent(a, b) {
				continue
			}
			if Similarity(a.Description, b.Description) >= threshold {
				uf.union(i, j)
			}
		}
	}

	classes := make(map[int][]int)
	for i := range findings {
		root := uf.find(i)
		classes[root] = append(classes[root], i)
	}

	falsePositive := unanimousFalsePositives(grades)

	var entries []Entry
	for _, members := range classes {
		if allFalsePositive(findings, members, falsePositive) {
			continue
		}
		entries = append(entries, mergeClass(findings, members))
	}

	// Total order: severity descending, then file path, then line
	// ascending, then description for full determinism.
	sort.Slice(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.Description < b.Description
	})

	coverage := CoverageFull
	if batch.Partial() {
		coverage = CoveragePartial
	}
	return Report{
		ChangesetID: batch.ChangesetID,
		Coverage:    coverage,
		Entries:     entries,
	}
}

// collectFindings gathers first-pass findings from responding reviewers plus
// issues additionally discovered during cross-grading.
func collectFindings(batch Batch, grades []CrossGradeResult) []Finding {
	var out []Finding
	for i := range batch.Results {
		if batch.Results[i].Status != ReviewerOK {
			continue
		}
		out = append(out, batch.Results[i].Findings...)
	}
	for _, gr := range grades {
		out = append(out, gr.Additional...)
	}
	return out
}

// findingLess is the canonical candidate ordering.
func findingLess(a, b *Finding) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	if a.Description != b.Description {
		return a.Description < b.Description
	}
	if a.ReviewerID != b.ReviewerID {
		return a.ReviewerID < b.ReviewerID
	}
	return a.ID < b.ID
}

// unanimousFalsePositives returns, per finding ID, whether every grade seen
// so far is false-positive. A single valid or duplicate verdict clears the
// flag.
func unanimousFalsePositives(grades []CrossGradeResult) map[string]bool {
	fp := make(map[string]bool)
	for _, gr := range grades {
		for _, g := range gr.Grades {
			switch g.Verdict {
			case VerdictFalsePositive:
				if _, seen := fp[g.FindingID]; !seen {
					fp[g.FindingID] = true
				}
			default:
				fp[g.FindingID] = false
			}
		}
	}
	return fp
}

// allFalsePositive reports whether every member of the class was unanimously
// graded false-positive (and at least one was graded at all).
func allFalsePositive(findings []Finding, members []int, fp map[string]bool) bool {
	graded := false
	for _, idx := range members {
		v, ok := fp[findings[idx].ID]
		if !ok {
			continue
		}
		graded = true
		if !v {
			return false
		}
	}
	return graded
}

// mergeClass builds the representative entry for one equivalence class: the
// first member in canonical order anchors file and identity, severity is the
// highest observed, the line range covers all members on the anchor file,
// and suggestions merge as distinct segments.
func mergeClass(findings []Finding, members []int) Entry {
	sort.Slice(members, func(i, j int) bool {
		return findingLess(&findings[members[i]], &findings[members[j]])
	})

	rep := findings[members[0]]
	entry := Entry{Finding: rep}

	start, end := rep.StartLine, rep.EndLine
	if end == 0 {
		end = start
	}
	contributors := make(map[string]struct{})
	var segments []string
	seen := make(map[string]struct{})

	for _, idx := range members {
		f := &findings[idx]
		if f.Severity.Rank() > entry.Severity.Rank() {
			entry.Severity = f.Severity
		}
		contributors[f.ReviewerID] = struct{}{}
		if f.File == rep.File {
			if f.StartLine < start {
				start = f.StartLine
			}
			fEnd := f.EndLine
			if fEnd == 0 {
				fEnd = f.StartLine
			}
			if fEnd > end {
				end = fEnd
			}
		}
		// Suggestions merge as distinct non-redundant segments so that
		// re-synthesizing a merged suggestion is a no-op.
		for _, seg := range strings.Split(f.Suggestion, "; ") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			if _, dup := seen[seg]; dup {
				continue
			}
			seen[seg] = struct{}{}
			segments = append(segments, seg)
		}
	}

	entry.StartLine = start
	if end != start {
		entry.EndLine = end
	} else {
		entry.EndLine = 0
	}
	sort.Strings(segments)
	entry.Suggestion = strings.Join(segments, "; ")

	entry.Contributors = make([]string, 0, len(contributors))
	for id := range contributors {
		entry.Contributors = append(entry.Contributors, id)
	}
	sort.Strings(entry.Contributors)
	return entry
}

// AsBatch re-expands a report into a batch: one finding per contributor per
// entry. Synthesizing the result reproduces the report (idempotence).
func (r *Report) AsBatch() Batch {
	perReviewer := make(map[string][]Finding)
	for _, e := range r.Entries {
		for _, c := range e.Contributors {
			f := e.Finding
			f.ID = e.ID + "/" + c
			f.ReviewerID = c
			perReviewer[c] = append(perReviewer[c], f)
		}
	}
	ids := make([]string, 0, len(perReviewer))
	for id := range perReviewer {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	b := Batch{ChangesetID: r.ChangesetID}
	for _, id := range ids {
		b.Results = append(b.Results, ReviewerResult{
			ReviewerID: id,
			Status:     ReviewerOK,
			Findings:   perReviewer[id],
		})
	}
	return b
}

// unionFind is a small union-find over finding indices.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		// Deterministic: smaller index wins as root.
		if ra < rb {
			u.parent[rb] = ra
		} else {
			u.parent[ra] = rb
		}
	}
}
