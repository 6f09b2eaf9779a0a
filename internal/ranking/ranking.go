// Package ranking orders the candidates of a fund.
//
// Order: vote_count DESC, then last_vote_timestamp ASC where a candidate
// that never received a vote (timestamp 0) sorts after every voted
// candidate with the same count, then applicant id ASC.
package ranking

import (
	"sort"

	"edufund/internal/domain"
)

// Less reports whether a ranks strictly ahead of b.
func Less(a, b *domain.Applicant) bool {
	if a.VoteCount != b.VoteCount {
		return a.VoteCount > b.VoteCount
	}
	ta, tb := a.LastVoteTimestamp, b.LastVoteTimestamp
	if ta != tb {
		// 0 means never voted and behaves as +infinity.
		if ta == 0 {
			return false
		}
		if tb == 0 {
			return true
		}
		return ta < tb
	}
	return a.ID < b.ID
}

// Rank returns applicant ids in rank order. The input is not modified.
func Rank(applicants []domain.Applicant) []int {
	ordered := Sorted(applicants)
	ids := make([]int, len(ordered))
	for i, a := range ordered {
		ids[i] = a.ID
	}
	return ids
}

// Sorted returns a copy of applicants in rank order.
func Sorted(applicants []domain.Applicant) []domain.Applicant {
	ordered := make([]domain.Applicant, len(applicants))
	copy(ordered, applicants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return Less(&ordered[i], &ordered[j])
	})
	return ordered
}

// TopK returns the first min(k, len(applicants)) applicants in rank order.
func TopK(applicants []domain.Applicant, k int) []domain.Applicant {
	ordered := Sorted(applicants)
	if k < 0 {
		k = 0
	}
	if k > len(ordered) {
		k = len(ordered)
	}
	return ordered[:k]
}
