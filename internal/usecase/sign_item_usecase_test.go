package usecase

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-vrtl/internal/domain/entity"
)

func TestCanceledItemCannotSignOrRefuse(t *testing.T) {
	for _, revoke := range []bool{false, true} {
		h := newHarness(t)
		detail := h.create(t, twoSigners())
		id := detail.Request.ID
		item := detail.Items[0]

		canceled, err := h.items.Cancel(context.Background(), id, item.ID, revoke, adminActor)
		require.NoError(t, err)
		assert.Equal(t, entity.ItemStateCanceled, canceled.State)

		_, signErr := h.items.Sign(context.Background(), &SignInput{
			RequestID: id,
			Token:     item.AccessToken.Reveal(),
			Signature: pngSignature,
		}, signerActor)
		_, refuseErr := h.items.Refuse(context.Background(), &RefuseInput{
			RequestID: id,
			Token:     item.AccessToken.Reveal(),
			Reason:    "too late",
		}, signerActor)

		if revoke {
			assert.ErrorIs(t, signErr, entity.ErrAccessDenied)
			assert.ErrorIs(t, refuseErr, entity.ErrAccessDenied)
		} else {
			assert.ErrorIs(t, signErr, entity.ErrStateConflict)
			assert.ErrorIs(t, refuseErr, entity.ErrStateConflict)
		}

		assert.Equal(t, []entity.LogAction{entity.LogActionCreate, entity.LogActionCancel}, h.actions(t, id))

		// the remaining signer alone completes the request
		h.sign(t, id, detail.Items[1])
		got, err := h.requests.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStateSigned, got.Request.State)
		assert.Equal(t, "1/1", got.Stats.Progress)
	}
}

func TestCancelingEveryItemCancelsRequest(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID

	for _, item := range detail.Items {
		_, err := h.items.Cancel(context.Background(), id, item.ID, true, adminActor)
		require.NoError(t, err)
	}

	got, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateCanceled, got.Request.State)
	assert.Equal(t, []entity.LogAction{
		entity.LogActionCreate,
		entity.LogActionCancel,
		entity.LogActionCancel,
		entity.LogActionCancel,
	}, h.actions(t, id))
}

func TestSignRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID

	_, err := h.items.Sign(context.Background(), &SignInput{
		RequestID: id,
		Token:     detail.Items[0].AccessToken.Reveal(),
		Signature: []byte("definitely not an image"),
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = h.items.Sign(context.Background(), &SignInput{
		RequestID: id,
		Token:     "not-a-token",
		Signature: pngSignature,
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)
	assert.Equal(t, "access denied", err.Error())

	_, err = h.items.Sign(context.Background(), &SignInput{
		RequestID: id,
		Token:     detail.Items[0].AccessToken.Reveal(),
		Signature: pngSignature,
		Link:      &SignedLink{Timestamp: "1", Signature: "00"},
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	assert.Equal(t, []entity.LogAction{entity.LogActionCreate}, h.actions(t, id))
}

func TestSignOnSharedRequestConflicts(t *testing.T) {
	h := newHarness(t)
	in := twoSigners()
	in.Shared = true
	detail := h.create(t, in)

	_, err := h.items.Sign(context.Background(), &SignInput{
		RequestID: detail.Request.ID,
		Token:     detail.Items[0].AccessToken.Reveal(),
		Signature: pngSignature,
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)
}

func TestSignStoresPayloadAndLocation(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID

	signed := h.sign(t, id, detail.Items[0])
	assert.Equal(t, entity.ItemStateCompleted, signed.State)
	assert.Contains(t, signed.SignatureRef, "local:signatures/")
	require.NotNil(t, signed.SigningDate)

	logs, err := h.audit.ListLogs(context.Background(), id)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, entity.LogActionSign, last.Action)
	assert.Equal(t, detail.Items[0].AccessToken.Reveal(), last.Token)
	assert.Equal(t, int64(11), *last.PartnerID)
	assert.Equal(t, 48.85, last.Latitude)
}

func TestUpdateSignerEmailResendsAccess(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID
	item := detail.Items[1]

	_, err := h.items.UpdateSignerEmail(context.Background(), id, item.ID, "broken", adminActor)
	assert.ErrorIs(t, err, entity.ErrValidation)

	updated, err := h.items.UpdateSignerEmail(context.Background(), id, item.ID, "lin.new@example.com", adminActor)
	require.NoError(t, err)
	assert.Equal(t, "lin.new@example.com", updated.SignerEmail)

	mails := h.mailer.ByTemplate(entity.MailTemplateAccess)
	require.Len(t, mails, 3)
	assert.Equal(t, []string{"lin.new@example.com"}, mails[2].To)
	assert.Equal(t, entity.LogActionUpdateMail, h.actions(t, id)[1])

	h.sign(t, id, item)
	_, err = h.items.UpdateSignerEmail(context.Background(), id, item.ID, "again@example.com", adminActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)

	_, err = h.items.UpdateSignerEmail(context.Background(), id+100, item.ID, "again@example.com", adminActor)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestSignAndRefuseHideUnknownRequests(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())

	for _, requestID := range []int64{999, detail.Request.ID} {
		_, err := h.items.Sign(context.Background(), &SignInput{
			RequestID: requestID,
			Token:     "guess",
			Signature: pngSignature,
		}, signerActor)
		assert.ErrorIs(t, err, entity.ErrAccessDenied, "request %d", requestID)
		assert.Equal(t, "access denied", err.Error())

		_, err = h.items.Refuse(context.Background(), &RefuseInput{
			RequestID: requestID,
			Token:     "guess",
			Reason:    "no",
		}, signerActor)
		assert.ErrorIs(t, err, entity.ErrAccessDenied, "request %d", requestID)
		assert.Equal(t, "access denied", err.Error())
	}
}

func TestTokenIsCheckedBeforePayload(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID

	_, err := h.items.Sign(context.Background(), &SignInput{
		RequestID:        id,
		Token:            "guess",
		EncodedSignature: "!!not base64!!",
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	_, err = h.items.Sign(context.Background(), &SignInput{
		RequestID: id,
		Token:     "guess",
		Signature: []byte("not an image"),
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	_, err = h.items.Refuse(context.Background(), &RefuseInput{RequestID: id, Token: "guess"}, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	_, err = h.items.Sign(context.Background(), &SignInput{
		RequestID:        id,
		Token:            detail.Items[0].AccessToken.Reveal(),
		EncodedSignature: "!!not base64!!",
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrValidation)

	signed, err := h.items.Sign(context.Background(), &SignInput{
		RequestID:        id,
		Token:            detail.Items[0].AccessToken.Reveal(),
		EncodedSignature: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngSignature),
	}, signerActor)
	require.NoError(t, err)
	assert.Equal(t, entity.ItemStateCompleted, signed.State)
	assert.Equal(t, []entity.LogAction{entity.LogActionCreate, entity.LogActionSign}, h.actions(t, id))
}

func TestCancelingEveryItemCancelsSharedRequest(t *testing.T) {
	h := newHarness(t)
	in := twoSigners()
	in.Shared = true
	detail := h.create(t, in)
	id := detail.Request.ID

	_, err := h.items.Cancel(context.Background(), id, detail.Items[0].ID, true, adminActor)
	require.NoError(t, err)
	got, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateShared, got.Request.State)

	_, err = h.items.Cancel(context.Background(), id, detail.Items[1].ID, true, adminActor)
	require.NoError(t, err)
	got, err = h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateCanceled, got.Request.State)

	_, err = h.requests.Send(context.Background(), id, adminActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)
	assert.Empty(t, h.mailer.ByTemplate(entity.MailTemplateAccess))
}
