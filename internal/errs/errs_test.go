package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/errs"
)

func TestIsMatchesByKind(t *testing.T) {
	err := errs.New(errs.NotFound, "key package missing")
	require.True(t, errors.Is(err, errs.ErrNotFound))
	require.False(t, errors.Is(err, errs.ErrTimeout))
}

func TestEpochMismatchPayload(t *testing.T) {
	err := errs.NewEpochMismatch(10, 16)
	require.Equal(t, errs.EpochMismatch, err.Kind)
	require.Equal(t, uint64(10), err.Expected)
	require.Equal(t, uint64(16), err.Actual)
	require.Contains(t, err.Error(), "expected=10")
	require.Contains(t, err.Error(), "actual=16")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := errs.Wrap(errs.Storage, "snapshot write failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestRetryable(t *testing.T) {
	err := errs.New(errs.Timeout, "rpc timeout").WithRetryable(true)
	require.True(t, err.Retryable)
}

func TestExpiredKindMatchesSentinel(t *testing.T) {
	err := errs.New(errs.Expired, "dht value past ttl")
	require.True(t, errors.Is(err, errs.ErrExpired))
	require.Equal(t, "Expired", errs.Expired.String())
}
