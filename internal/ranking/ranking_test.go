package ranking

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edufund/internal/domain"
)

func TestRank_VotesDescending(t *testing.T) {
	apps := []domain.Applicant{
		{ID: 0, VoteCount: 1, LastVoteTimestamp: 10},
		{ID: 1, VoteCount: 3, LastVoteTimestamp: 30},
		{ID: 2, VoteCount: 2, LastVoteTimestamp: 20},
	}
	assert.Equal(t, []int{1, 2, 0}, Rank(apps))
}

// X:3 votes, Y:1 vote, Z:1 vote with an earlier timestamp -> X, Z, Y.
func TestRank_EarlierTimestampWinsTie(t *testing.T) {
	apps := []domain.Applicant{
		{ID: 0, Name: "X", VoteCount: 3, LastVoteTimestamp: 500},
		{ID: 1, Name: "Y", VoteCount: 1, LastVoteTimestamp: 400},
		{ID: 2, Name: "Z", VoteCount: 1, LastVoteTimestamp: 300},
	}
	assert.Equal(t, []int{0, 2, 1}, Rank(apps))
}

func TestRank_NeverVotedSortsLast(t *testing.T) {
	apps := []domain.Applicant{
		{ID: 0, VoteCount: 0, LastVoteTimestamp: 0},
		{ID: 1, VoteCount: 0, LastVoteTimestamp: 0},
		{ID: 2, VoteCount: 0, LastVoteTimestamp: 900}, // voted timestamps with equal count sort first
		{ID: 3, VoteCount: 0, LastVoteTimestamp: 100},
	}
	assert.Equal(t, []int{3, 2, 0, 1}, Rank(apps))
}

func TestRank_EqualKeysFallBackToID(t *testing.T) {
	apps := []domain.Applicant{
		{ID: 2, VoteCount: 1, LastVoteTimestamp: 50},
		{ID: 0, VoteCount: 1, LastVoteTimestamp: 50},
		{ID: 1, VoteCount: 1, LastVoteTimestamp: 50},
	}
	assert.Equal(t, []int{0, 1, 2}, Rank(apps))
}

func TestRank_DoesNotModifyInput(t *testing.T) {
	apps := []domain.Applicant{
		{ID: 0, VoteCount: 0},
		{ID: 1, VoteCount: 5, LastVoteTimestamp: 1},
	}
	_ = Rank(apps)
	assert.Equal(t, 0, apps[0].ID)
	assert.Equal(t, 1, apps[1].ID)
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil))
	assert.Empty(t, TopK(nil, 3))
}

func TestTopK(t *testing.T) {
	apps := []domain.Applicant{
		{ID: 0, VoteCount: 1, LastVoteTimestamp: 10},
		{ID: 1, VoteCount: 2, LastVoteTimestamp: 20},
	}

	top := TopK(apps, 3)
	require.Len(t, top, 2)
	assert.Equal(t, 1, top[0].ID)

	top = TopK(apps, 1)
	require.Len(t, top, 1)
	assert.Equal(t, 1, top[0].ID)
}

func TestRank_DeterministicUnderShuffle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(12)
		apps := make([]domain.Applicant, n)
		for i := range apps {
			votes := rng.Intn(4)
			var ts int64
			if votes > 0 || rng.Intn(3) == 0 {
				ts = int64(rng.Intn(5)) * 100
			}
			apps[i] = domain.Applicant{ID: i, VoteCount: votes, LastVoteTimestamp: ts}
		}

		want := Rank(apps)
		assert.Equal(t, want, Rank(apps), "same snapshot must rank identically")

		shuffled := make([]domain.Applicant, n)
		copy(shuffled, apps)
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, Rank(shuffled), "input order must not matter")

		// Strict total order: consecutive pairs are strictly ordered.
		sorted := Sorted(apps)
		for i := 1; i < len(sorted); i++ {
			assert.True(t, Less(&sorted[i-1], &sorted[i]))
			assert.False(t, Less(&sorted[i], &sorted[i-1]))
		}
	}
}

func TestRank_AllEqualVotesVotedBeforeUnvoted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		n := 2 + rng.Intn(10)
		apps := make([]domain.Applicant, n)
		for i := range apps {
			var ts int64
			if rng.Intn(2) == 0 {
				ts = 1 + int64(rng.Intn(3))
			}
			apps[i] = domain.Applicant{ID: i, VoteCount: 2, LastVoteTimestamp: ts}
		}

		sorted := Sorted(apps)
		seenUnvoted := false
		for _, a := range sorted {
			if a.LastVoteTimestamp == 0 {
				seenUnvoted = true
				continue
			}
			assert.False(t, seenUnvoted, "voted applicant ranked after an unvoted one")
		}
	}
}
