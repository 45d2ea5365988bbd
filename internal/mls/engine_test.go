package mls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/mls"
)

func newTestConfig() mls.MlsConfig {
	cfg := mls.DefaultMlsConfig()
	cfg.ReplayCacheSize = 100
	return cfg
}

func TestCreateGroupStartsAtEpochZeroWithCreatorAsAdmin(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)

	engine, err := mls.CreateGroup(groupID, []byte("alice"), newTestConfig(), nil)
	require.NoError(t, err)

	require.Equal(t, uint64(0), engine.Epoch())
	members := engine.Members()
	require.Len(t, members, 1)
	require.Equal(t, mls.RoleAdmin, members[0].Role)
	require.Equal(t, uint32(0), engine.OwnLeafIndex())
}

func TestSendAndOpenApplicationMessageRoundTrips(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	engine, err := mls.CreateGroup(groupID, []byte("alice"), newTestConfig(), nil)
	require.NoError(t, err)

	envelope, err := engine.SendMessage([]byte("hello group"))
	require.NoError(t, err)
	require.Equal(t, mls.MessageApplication, envelope.MessageType)

	processed, err := engine.OpenApplicationMessage(envelope)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), processed.SenderIdentity)
	require.Equal(t, []byte("hello group"), processed.Plaintext)
}

func TestOpenApplicationMessageRejectsReplay(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	engine, err := mls.CreateGroup(groupID, []byte("alice"), newTestConfig(), nil)
	require.NoError(t, err)

	envelope, err := engine.SendMessage([]byte("hi"))
	require.NoError(t, err)

	_, err = engine.OpenApplicationMessage(envelope)
	require.NoError(t, err)

	_, err = engine.OpenApplicationMessage(envelope)
	require.Error(t, err)
}

// twoMemberGroup creates a group with alice as creator, adds bob via a
// real key package, and returns alice's engine and bob's freshly-joined
// engine.
func twoMemberGroup(t *testing.T) (*mls.GroupEngine, *mls.GroupEngine) {
	t.Helper()
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	cfg := newTestConfig()

	alice, err := mls.CreateGroup(groupID, []byte("alice"), cfg, nil)
	require.NoError(t, err)

	bobSigningKey, err := mls.GenerateSigningKey()
	require.NoError(t, err)
	bobKeyPackage, bobHPKEPriv, err := mls.GenerateKeyPackage([]byte("bob"), bobSigningKey)
	require.NoError(t, err)

	_, welcomes, err := alice.AddMembers([]mls.KeyPackage{bobKeyPackage})
	require.NoError(t, err)
	require.Len(t, welcomes, 1)

	bob, err := mls.JoinFromWelcome(welcomes[0], []byte("bob"), bobSigningKey, bobHPKEPriv, cfg, nil)
	require.NoError(t, err)

	require.Equal(t, alice.Epoch(), bob.Epoch())
	require.Len(t, bob.Members(), 2)
	return alice, bob
}

func TestAddMembersProducesWelcomeThatJoinsAtSameEpoch(t *testing.T) {
	alice, bob := twoMemberGroup(t)
	require.Equal(t, alice.Epoch(), bob.Epoch())
	require.Equal(t, uint64(1), alice.Epoch())
}

func TestBobCanSendAndAliceCanOpen(t *testing.T) {
	alice, bob := twoMemberGroup(t)

	envelope, err := bob.SendMessage([]byte("hi alice"))
	require.NoError(t, err)

	processed, err := alice.OpenApplicationMessage(envelope)
	require.NoError(t, err)
	require.Equal(t, []byte("bob"), processed.SenderIdentity)
	require.Equal(t, []byte("hi alice"), processed.Plaintext)
}

func TestRemoveMemberAdvancesEpochAndRevokesAccess(t *testing.T) {
	alice, bob := twoMemberGroup(t)

	commit, err := alice.RemoveMembers([]uint32{bob.OwnLeafIndex()})
	require.NoError(t, err)
	require.Equal(t, alice.Epoch(), commit.NewEpoch)

	err = bob.ApplyCommit(commit)
	require.NoError(t, err)
	require.Len(t, bob.Members(), 1)
}

func TestRemoveMembersRejectedForNonAdmin(t *testing.T) {
	_, bob := twoMemberGroup(t)
	_, err := bob.RemoveMembers([]uint32{0})
	require.Error(t, err)
}

func TestApplyCommitRejectsWrongEpoch(t *testing.T) {
	alice, bob := twoMemberGroup(t)

	commit, err := alice.RemoveMembers(nil)
	require.NoError(t, err)
	// Apply the same commit twice: the second application is now stale.
	require.NoError(t, bob.ApplyCommit(commit))
	err = bob.ApplyCommit(commit)
	require.Error(t, err)
}

func TestApplyCommitRejectsForgedSignature(t *testing.T) {
	alice, bob := twoMemberGroup(t)

	commit, err := alice.RemoveMembers(nil)
	require.NoError(t, err)
	commit.Signature[0] ^= 0xFF

	err = bob.ApplyCommit(commit)
	require.Error(t, err)
}

func TestAddMembersRejectsOverMaxGroupSize(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	cfg := newTestConfig()
	cfg.MaxGroupSize = 1

	alice, err := mls.CreateGroup(groupID, []byte("alice"), cfg, nil)
	require.NoError(t, err)

	bobSigningKey, err := mls.GenerateSigningKey()
	require.NoError(t, err)
	bobKeyPackage, _, err := mls.GenerateKeyPackage([]byte("bob"), bobSigningKey)
	require.NoError(t, err)

	_, _, err = alice.AddMembers([]mls.KeyPackage{bobKeyPackage})
	require.Error(t, err)
}
