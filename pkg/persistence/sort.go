package persistence

import (
	"slices"
	"strings"

	"github.com/nexuspro/flows/pkg/models"
)

// SortByCreatedAt orders runs oldest first, breaking ties by id.
func SortByCreatedAt(runs []*models.RunRecord) {
	slices.SortFunc(runs, func(a, b *models.RunRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}

// SortByResumeAt orders runs by resume time. Runs without one sort last.
func SortByResumeAt(runs []*models.RunRecord) {
	slices.SortStableFunc(runs, func(a, b *models.RunRecord) int {
		switch {
		case a.ResumeAt == nil && b.ResumeAt == nil:
			return strings.Compare(a.ID, b.ID)
		case a.ResumeAt == nil:
			return 1
		case b.ResumeAt == nil:
			return -1
		}

		if c := a.ResumeAt.Compare(*b.ResumeAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
