package mls_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/mls"
)

func TestReplayCacheAllowsFirstSighting(t *testing.T) {
	c := mls.NewReplayCache(1000, time.Hour)
	require.False(t, c.Seen([]byte("message-1")))
}

func TestReplayCacheRejectsSecondSighting(t *testing.T) {
	c := mls.NewReplayCache(1000, time.Hour)
	require.False(t, c.Seen([]byte("message-1")))
	require.True(t, c.Seen([]byte("message-1")))
}

func TestReplayCacheDistinguishesIDs(t *testing.T) {
	c := mls.NewReplayCache(1000, time.Hour)
	require.False(t, c.Seen([]byte("a")))
	require.False(t, c.Seen([]byte("b")))
}

func TestReplayCacheRotationPreservesRecentEntries(t *testing.T) {
	c := mls.NewReplayCache(1000, time.Millisecond)
	require.False(t, c.Seen([]byte("message-1")))
	time.Sleep(5 * time.Millisecond)
	// still within one rotation of being recorded: must be caught by
	// the "previous" generation even though "active" has rotated.
	require.True(t, c.Seen([]byte("message-1")))
}
