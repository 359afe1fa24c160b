package failover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_PrefersHigherPriorityAlternate(t *testing.T) {
	// A sits low in the priority order; the walk wraps around to B.
	next, err := Next([]string{"A", "B", "C"}, "A", []string{"B", "C", "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", next)
}

func TestNext_UnlistedCandidatesAreLastResort(t *testing.T) {
	// B outranks the unlisted C even though C follows A in input order.
	next, err := Next([]string{"A", "B", "C"}, "A", []string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", next)
}

func TestNext_CircularWalkWrapsAround(t *testing.T) {
	// Current is the top-priority provider; selection wraps to the next.
	next, err := Next([]string{"A", "B", "C"}, "B", []string{"B", "C", "A"})
	require.NoError(t, err)
	assert.Equal(t, "C", next)

	// Current is last in priority; wrap back to the head.
	next, err = Next([]string{"A", "B", "C"}, "A", []string{"B", "C", "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", next)
}

func TestNext_UnlistedCurrentRestartsFromHead(t *testing.T) {
	next, err := Next([]string{"A", "B", "C"}, "C", []string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", next)
}

func TestNext_NoPriorityListKeepsInputOrder(t *testing.T) {
	next, err := Next([]string{"A", "B", "C"}, "A", nil)
	require.NoError(t, err)
	assert.Equal(t, "B", next)
}

func TestNext_SingleProvider(t *testing.T) {
	_, err := Next([]string{"A"}, "A", []string{"A"})
	assert.ErrorIs(t, err, ErrNoAlternate)
}

func TestNext_OnlyOtherCandidateIsUnlisted(t *testing.T) {
	next, err := Next([]string{"A", "C"}, "A", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "C", next)
}

func TestNext_EmptyProviders(t *testing.T) {
	_, err := Next(nil, "A", []string{"A", "B"})
	assert.ErrorIs(t, err, ErrNoAlternate)
}

func TestNext_DoesNotMutateInput(t *testing.T) {
	providers := []string{"C", "A", "B"}
	_, err := Next(providers, "A", []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, providers)
}

func TestSelector_SelectNextUsesConfiguredPriorities(t *testing.T) {
	s := NewSelector(map[string][]string{
		"claude": {"anthropic", "bedrock", "vertex"},
	})

	next, err := s.SelectNext("claude", []string{"anthropic", "bedrock", "vertex"}, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "bedrock", next)

	// Unknown assistant type falls back to input order.
	next, err = s.SelectNext("codex", []string{"x", "y"}, "x")
	require.NoError(t, err)
	assert.Equal(t, "y", next)
}

func TestSelector_ReplaceSwapsPriorities(t *testing.T) {
	s := NewSelector(map[string][]string{"claude": {"anthropic", "bedrock"}})
	s.Replace(map[string][]string{"claude": {"bedrock", "anthropic"}})

	assert.Equal(t, []string{"bedrock", "anthropic"}, s.Priority("claude"))
}

func TestSelector_PriorityReturnsCopy(t *testing.T) {
	s := NewSelector(map[string][]string{"claude": {"anthropic", "bedrock"}})
	chain := s.Priority("claude")
	chain[0] = "mutated"

	assert.Equal(t, []string{"anthropic", "bedrock"}, s.Priority("claude"))
}
