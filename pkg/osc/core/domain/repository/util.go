package repository

import (
	"sort"
	"strings"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// SortJobs orders jobs by created_at DESC with id ASC as the tiebreak.
func SortJobs(jobs []*model.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
