package changes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/esnunes/studio/internal/models"
)

const noNewline = `\ No newline at end of file`

// UnifiedDiff renders one change as a single-hunk unified diff. Creates diff
// against /dev/null on the old side, deletes on the new side.
func UnifiedDiff(c models.FileChange) models.FileDiff {
	var before, after []string
	if c.Before != nil {
		before = splitLines(*c.Before)
	}
	if c.After != nil {
		after = splitLines(*c.After)
	}

	oldName, newName := "a/"+c.Path, "b/"+c.Path
	switch c.Action {
	case models.ActionCreate:
		oldName = "/dev/null"
	case models.ActionDelete:
		newName = "/dev/null"
	}

	fd := models.FileDiff{Path: c.Path}
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	if slices.Equal(before, after) {
		fd.Diff = b.String()
		return fd
	}

	fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(len(before)), hunkRange(len(after)))
	m := difflib.NewMatcherWithJunk(before, after, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			writeLines(&b, ' ', before[op.I1:op.I2])
		case 'd':
			fd.RemovedLines += writeLines(&b, '-', before[op.I1:op.I2])
		case 'i':
			fd.AddedLines += writeLines(&b, '+', after[op.J1:op.J2])
		case 'r':
			fd.RemovedLines += writeLines(&b, '-', before[op.I1:op.I2])
			fd.AddedLines += writeLines(&b, '+', after[op.J1:op.J2])
		}
	}
	fd.Diff = b.String()
	return fd
}

// UnifiedDiffs renders every change in order.
func UnifiedDiffs(cs []models.FileChange) []models.FileDiff {
	out := make([]models.FileDiff, len(cs))
	for i, c := range cs {
		out[i] = UnifiedDiff(c)
	}
	return out
}

// Report renders a combined, human-readable summary followed by each diff.
func Report(diffs []models.FileDiff, st models.ChangeStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s changed (%d created, %d updated, %d deleted), ~+%d/-%d chars\n",
		st.Files, plural(st.Files, "file", "files"), st.Created, st.Updated, st.Deleted,
		st.AddedChars, st.RemovedChars)
	if len(diffs) == 0 {
		return b.String()
	}

	width := 0
	for _, d := range diffs {
		width = max(width, len(d.Path))
	}
	b.WriteString("\n")
	for _, d := range diffs {
		fmt.Fprintf(&b, " %-*s | +%d -%d\n", width, d.Path, d.AddedLines, d.RemovedLines)
	}
	for _, d := range diffs {
		b.WriteString("\n")
		b.WriteString(d.Diff)
	}
	return b.String()
}

// splitLines keeps line terminators so that a missing final newline is a
// visible difference. The empty tail produced by a trailing newline is dropped.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(b *strings.Builder, prefix byte, lines []string) int {
	for _, l := range lines {
		b.WriteByte(prefix)
		if strings.HasSuffix(l, "\n") {
			b.WriteString(l)
			continue
		}
		b.WriteString(l)
		b.WriteString("\n" + noNewline + "\n")
	}
	return len(lines)
}

func hunkRange(n int) string {
	if n == 0 {
		return "0,0"
	}
	return fmt.Sprintf("1,%d", n)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
