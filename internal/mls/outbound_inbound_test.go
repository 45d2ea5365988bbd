package mls_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/internal/mls"
)

func TestOutboundBuilderBuildApplicationMessage(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	engine, err := mls.CreateGroup(groupID, []byte("alice"), newTestConfig(), nil)
	require.NoError(t, err)

	builder := mls.NewOutboundBuilder([]byte("alice"))
	envelope, err := builder.BuildApplicationMessage(engine, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, groupID, envelope.GroupID)
	require.Equal(t, mls.MessageApplication, envelope.MessageType)
}

func TestOutboundBuilderAddProposalProducesCommitAndWelcome(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	engine, err := mls.CreateGroup(groupID, []byte("alice"), newTestConfig(), nil)
	require.NoError(t, err)

	bobSigningKey, err := mls.GenerateSigningKey()
	require.NoError(t, err)
	bobKeyPackage, _, err := mls.GenerateKeyPackage([]byte("bob"), bobSigningKey)
	require.NoError(t, err)

	builder := mls.NewOutboundBuilder([]byte("alice"))
	envelope, welcomes, err := builder.BuildAddProposal(engine, []mls.KeyPackage{bobKeyPackage})
	require.NoError(t, err)
	require.Equal(t, mls.MessageCommit, envelope.MessageType)
	require.Len(t, welcomes, 1)
}

func TestInboundHandlerProcessEnvelopeDecryptsApplicationMessage(t *testing.T) {
	alice, bob := twoMemberGroup(t)

	builder := mls.NewOutboundBuilder([]byte("bob"))
	envelope, err := builder.BuildApplicationMessage(bob, []byte("ping"))
	require.NoError(t, err)

	handler := mls.NewInboundHandler()
	result, err := handler.ProcessEnvelope(alice, envelope)
	require.NoError(t, err)
	require.Equal(t, mls.InboundApplication, result.Kind)
	require.Equal(t, []byte("ping"), result.Plaintext)
}

func TestInboundHandlerProcessEnvelopeAppliesCommit(t *testing.T) {
	alice, bob := twoMemberGroup(t)

	outbound := mls.NewOutboundBuilder([]byte("alice"))
	envelope, err := outbound.BuildRemoveProposal(alice, []uint32{bob.OwnLeafIndex()})
	require.NoError(t, err)

	handler := mls.NewInboundHandler()
	result, err := handler.ProcessEnvelope(bob, envelope)
	require.NoError(t, err)
	require.Equal(t, mls.InboundCommit, result.Kind)
	require.Len(t, bob.Members(), 1)
}

func TestVerifyEnvelopeMetadataRejectsWrongGroup(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)
	other, err := mls.RandomGroupID()
	require.NoError(t, err)

	envelope := mls.NewEnvelope(groupID, 5, mls.SealedSender{}, []byte("x"), mls.MessageApplication)
	handler := mls.NewInboundHandler()
	err = handler.VerifyEnvelopeMetadata(envelope, other, 5, 5)
	require.Error(t, err)
}

func TestVerifyEnvelopeMetadataRejectsEpochOutsideDriftWindow(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)

	handler := mls.NewInboundHandler()

	tooOld := mls.NewEnvelope(groupID, 2, mls.SealedSender{}, []byte("x"), mls.MessageApplication)
	require.Error(t, handler.VerifyEnvelopeMetadata(tooOld, groupID, 5, 10))

	tooNew := mls.NewEnvelope(groupID, 20, mls.SealedSender{}, []byte("x"), mls.MessageApplication)
	require.Error(t, handler.VerifyEnvelopeMetadata(tooNew, groupID, 5, 10))

	fine := mls.NewEnvelope(groupID, 10, mls.SealedSender{}, []byte("x"), mls.MessageApplication)
	require.NoError(t, handler.VerifyEnvelopeMetadata(fine, groupID, 5, 10))
}

// TestVerifyEnvelopeMetadataEpochDriftBoundary pins the exact edge of the
// drift window: with currentEpoch=10 and maxEpochDrift=5 the window is
// [5, 15], so epoch 15 is the last accepted epoch and epoch 16 is the
// first rejected one, surfacing the rejecting EpochMismatch's
// Expected/Actual payload for the caller.
func TestVerifyEnvelopeMetadataEpochDriftBoundary(t *testing.T) {
	groupID, err := mls.RandomGroupID()
	require.NoError(t, err)

	handler := mls.NewInboundHandler()

	atBoundary := mls.NewEnvelope(groupID, 15, mls.SealedSender{}, []byte("x"), mls.MessageApplication)
	require.NoError(t, handler.VerifyEnvelopeMetadata(atBoundary, groupID, 5, 10))

	pastBoundary := mls.NewEnvelope(groupID, 16, mls.SealedSender{}, []byte("x"), mls.MessageApplication)
	err = handler.VerifyEnvelopeMetadata(pastBoundary, groupID, 5, 10)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.EpochMismatch))

	var mismatch *errs.Error
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, uint64(10), mismatch.Expected)
	require.Equal(t, uint64(16), mismatch.Actual)
}
