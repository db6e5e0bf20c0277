package changes

import (
	"unicode/utf8"

	"github.com/esnunes/studio/internal/models"
)

// CalculateStats sums character counts per action. Lengths are in runes and
// an update only contributes its net growth or shrinkage, so the numbers
// approximate edit size rather than measure it.
func CalculateStats(cs []models.FileChange) models.ChangeStats {
	var st models.ChangeStats
	st.Files = len(cs)
	for _, c := range cs {
		before, after := runes(c.Before), runes(c.After)
		switch c.Action {
		case models.ActionCreate:
			st.AddedChars += after
			st.Created++
		case models.ActionDelete:
			st.RemovedChars += before
			st.Deleted++
		case models.ActionUpdate:
			st.AddedChars += max(0, after-before)
			st.RemovedChars += max(0, before-after)
			st.Updated++
		}
	}
	return st
}

func runes(s *string) int {
	if s == nil {
		return 0
	}
	return utf8.RuneCountInString(*s)
}
