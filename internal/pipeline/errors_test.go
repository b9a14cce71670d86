package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyMatchesThroughWrapping(t *testing.T) {
	t.Parallel()

	base := &SourceUnavailableError{SourceID: "remoteok", Err: errors.New("http 503")}
	wrapped := fmt.Errorf("fetch remoteok: %w", base)

	require.True(t, IsSourceUnavailable(wrapped))
	require.False(t, IsParseDrift(wrapped))

	var target *SourceUnavailableError
	require.True(t, errors.As(wrapped, &target))
	require.Equal(t, "remoteok", target.SourceID)
}

func TestParseDriftError_WithAndWithoutCause(t *testing.T) {
	t.Parallel()

	bare := &ParseDriftError{SourceID: "hn", Reason: "zero items in feed"}
	require.Contains(t, bare.Error(), "zero items in feed")
	require.Nil(t, errors.Unwrap(bare))

	caused := &ParseDriftError{SourceID: "hn", Reason: "decode body", Err: errors.New("unexpected EOF")}
	require.ErrorContains(t, caused, "unexpected EOF")
	require.True(t, IsParseDrift(fmt.Errorf("source hn: %w", caused)))
}

func TestIdentityKeyFor(t *testing.T) {
	t.Parallel()
	require.Equal(t, "lever:abc-123", IdentityKeyFor("lever", "abc-123"))
}

func TestSourceHealthEnabled(t *testing.T) {
	t.Parallel()
	require.True(t, SourceHealth{State: StateHealthy}.Enabled())
	require.True(t, SourceHealth{State: StateDegraded}.Enabled())
	require.False(t, SourceHealth{State: StateDisabled}.Enabled())
}
