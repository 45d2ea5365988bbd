package session_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/dht"
	"github.com/spacepanda/core/internal/mls"
	"github.com/spacepanda/core/internal/model"
	"github.com/spacepanda/core/internal/session"
)

func newTestCoordinator(t *testing.T) *session.Coordinator {
	t.Helper()
	store, err := mls.OpenStore(filepath.Join(t.TempDir(), "session.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	routing := dht.NewRoutingTable(dht.HashString("local-node"), 20)
	return session.New(session.DefaultConfig(), store, routing, nil, nil, nil)
}

func TestCreateChannelAttachesGroup(t *testing.T) {
	coord := newTestCoordinator(t)
	channelID := model.NewChannelID()

	engine, err := coord.CreateChannel(channelID, []byte("alice"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), engine.Epoch())

	got, ok := coord.Group(channelID)
	require.True(t, ok)
	require.Equal(t, engine.GroupID(), got.GroupID())
}

func TestSendMessageRoundTripsThroughDispatchInbound(t *testing.T) {
	coord := newTestCoordinator(t)
	channelID := model.NewChannelID()
	_, err := coord.CreateChannel(channelID, []byte("alice"), nil)
	require.NoError(t, err)

	envelope, err := coord.SendMessage(channelID, []byte("hello"))
	require.NoError(t, err)

	result, err := coord.DispatchInbound(channelID, envelope)
	require.NoError(t, err)
	require.Equal(t, mls.InboundApplication, result.Kind)
	require.Equal(t, []byte("hello"), result.Plaintext)
}

func TestDispatchInboundUnknownChannelFails(t *testing.T) {
	coord := newTestCoordinator(t)
	_, err := coord.DispatchInbound(model.NewChannelID(), mls.EncryptedEnvelope{})
	require.Error(t, err)
}

func TestHealthReportsAttachedChannelsAndPeers(t *testing.T) {
	coord := newTestCoordinator(t)
	channelID := model.NewChannelID()
	_, err := coord.CreateChannel(channelID, []byte("alice"), nil)
	require.NoError(t, err)

	report := coord.Health()
	require.Equal(t, 1, report.AttachedChannels)
	require.Equal(t, 0, report.RoutingTablePeers)
}

func TestShutdownPersistsFinalSnapshot(t *testing.T) {
	coord := newTestCoordinator(t)
	channelID := model.NewChannelID()
	engine, err := coord.CreateChannel(channelID, []byte("alice"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, coord.Shutdown(ctx))

	report := coord.Health()
	_ = engine
	require.Empty(t, report.StaleGroups)
}

func TestStartAutoKeyPackageCleanupDisabledByZeroInterval(t *testing.T) {
	store, err := mls.OpenStore(filepath.Join(t.TempDir(), "cleanup.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	routing := dht.NewRoutingTable(dht.HashString("local-node"), 20)
	cfg := session.DefaultConfig()
	cfg.KeyPackageCleanupInterval = 0
	coord := session.New(cfg, store, routing, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	coord.StartAutoKeyPackageCleanup(ctx)

	// A zero interval must not spawn a background goroutine at all, so
	// Shutdown (which waits on the same WaitGroup) returns immediately
	// rather than blocking on a ticker loop that would never select its
	// ctx.Done case until the deadline above.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, coord.Shutdown(shutdownCtx))
}

func TestRestoreChannelReloadsPersistedGroup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	store, err := mls.OpenStore(dbPath, nil)
	require.NoError(t, err)

	routing := dht.NewRoutingTable(dht.HashString("local-node"), 20)
	coord := session.New(session.DefaultConfig(), store, routing, nil, nil, nil)

	channelID := model.NewChannelID()
	signingKey, err := mls.GenerateSigningKey()
	require.NoError(t, err)
	_, hpkePriv, err := mls.GenerateHPKEKeyPair()
	require.NoError(t, err)

	engine, err := coord.CreateChannel(channelID, []byte("alice"), nil)
	require.NoError(t, err)
	require.NoError(t, store.PutSnapshot(engine.Snapshot()))

	restored, err := coord.RestoreChannel(channelID+"-restored", engine.GroupID(), signingKey, hpkePriv, nil)
	require.NoError(t, err)
	require.Equal(t, engine.Epoch(), restored.Epoch())
	require.Equal(t, engine.GroupID(), restored.GroupID())
	require.NoError(t, store.Close())
}
