package engine

import (
	"strings"

	"github.com/roach88/formrecovery/internal/model"
)

// LatestPerEmail keeps the most recently submitted submission of every
// email address (compared case-insensitively) and drops the rest. Ties
// keep the earlier one in upstream order. Submissions without an email
// are kept so they are still counted as skipped. Survivors stay in
// upstream order.
func LatestPerEmail(subs []model.Submission, emailField string) ([]model.Submission, int) {
	latest := make(map[string]int, len(subs))
	for i, s := range subs {
		key := strings.ToLower(s.Email(emailField))
		if key == "" {
			continue
		}
		j, seen := latest[key]
		if !seen || s.SubmittedAt().After(subs[j].SubmittedAt()) {
			latest[key] = i
		}
	}

	kept := make([]model.Submission, 0, len(subs))
	for i, s := range subs {
		key := strings.ToLower(s.Email(emailField))
		if key == "" || latest[key] == i {
			kept = append(kept, s)
		}
	}
	return kept, len(subs) - len(kept)
}
