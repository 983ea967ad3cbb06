package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/infrastructure/memstore"
)

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t)
	past := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(in *CreateSignRequestInput)
	}{
		{"missing reference", func(in *CreateSignRequestInput) { in.Reference = " " }},
		{"no signers", func(in *CreateSignRequestInput) { in.Signers = nil }},
		{"bad email", func(in *CreateSignRequestInput) { in.Signers[0].Email = "ada.example.com" }},
		{"missing role", func(in *CreateSignRequestInput) { in.Signers[1].Role = "" }},
		{"missing partner", func(in *CreateSignRequestInput) { in.Signers[1].PartnerID = 0 }},
		{"validity in the past", func(in *CreateSignRequestInput) { in.Validity = &past }},
		{"negative reminder", func(in *CreateSignRequestInput) { in.Reminder = -1 }},
		{"bad cc", func(in *CreateSignRequestInput) { in.CCEmails = []string{"nobody"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := twoSigners()
			tt.mutate(in)
			_, err := h.requests.Create(context.Background(), in, adminActor)
			assert.ErrorIs(t, err, entity.ErrValidation)
		})
	}
}

func TestCreateSendsAccessMails(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())

	assert.Equal(t, entity.RequestStateSent, detail.Request.State)
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), *detail.Request.Validity)
	assert.Empty(t, detail.ShareLink)
	require.Len(t, detail.Items, 2)

	mails := h.mailer.ByTemplate(entity.MailTemplateAccess)
	require.Len(t, mails, 2)
	assert.Equal(t, []string{"ada@example.com"}, mails[0].To)
	assert.Contains(t, mails[0].Context["link"], "https://sign.example.com/sign/document/mail/")
	assert.NotContains(t, mails[0].Context, "validity")

	got, err := h.requests.Get(context.Background(), detail.Request.ID)
	require.NoError(t, err)
	for _, item := range got.Items {
		assert.True(t, item.IsMailSent)
	}
	assert.Equal(t, []entity.LogAction{entity.LogActionCreate}, h.actions(t, detail.Request.ID))
}

func TestSharedRequestWaitsForSend(t *testing.T) {
	h := newHarness(t)
	in := twoSigners()
	in.Shared = true
	detail := h.create(t, in)

	assert.Equal(t, entity.RequestStateShared, detail.Request.State)
	assert.Contains(t, detail.ShareLink, "/sign/document/1/")
	assert.Empty(t, h.mailer.ByTemplate(entity.MailTemplateAccess))

	sent, err := h.requests.Send(context.Background(), detail.Request.ID, adminActor)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateSent, sent.Request.State)
	assert.Len(t, h.mailer.ByTemplate(entity.MailTemplateAccess), 2)

	_, err = h.requests.Send(context.Background(), detail.Request.ID, adminActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)
}

func TestTwoSignerScenario(t *testing.T) {
	h := newHarness(t)
	in := twoSigners()
	in.CCEmails = []string{"legal@example.com"}
	detail := h.create(t, in)
	id := detail.Request.ID

	h.sign(t, id, detail.Items[0])
	mid, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateSent, mid.Request.State)
	assert.Equal(t, "1/2", mid.Stats.Progress)
	assert.True(t, mid.Stats.StartSign)
	assert.Empty(t, h.mailer.ByTemplate(entity.MailTemplateCompleted))

	h.sign(t, id, detail.Items[1])
	done, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateSigned, done.Request.State)
	assert.NotNil(t, done.Request.CompletionDate)
	assert.NotEmpty(t, done.Request.CompletedDocument)

	completed := h.mailer.ByTemplate(entity.MailTemplateCompleted)
	require.Len(t, completed, 2)
	assert.Equal(t, "SO-0042 has been signed", completed[0].Subject)
	assert.Equal(t, []string{"legal@example.com"}, completed[0].CC)
	assert.Equal(t, []string{done.Request.CompletedDocument}, completed[0].Attachments)

	assert.Equal(t, []entity.LogAction{
		entity.LogActionCreate,
		entity.LogActionSign,
		entity.LogActionSign,
		entity.LogActionUpdate,
	}, h.actions(t, id))

	report, err := h.audit.CheckIntegrity(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, report.Intact)
	assert.Equal(t, 4, report.Checked)
}

func TestConcurrentLastSignersCompleteOnce(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID

	var wg sync.WaitGroup
	errs := make([]error, len(detail.Items))
	for i, item := range detail.Items {
		wg.Add(1)
		go func(i int, item *entity.SignRequestItem) {
			defer wg.Done()
			_, errs[i] = h.items.Sign(context.Background(), &SignInput{
				RequestID: id,
				Token:     item.AccessToken.Reveal(),
				Signature: pngSignature,
			}, signerActor)
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	logs, err := h.audit.ListLogs(context.Background(), id)
	require.NoError(t, err)
	signedTransitions := 0
	for _, l := range logs {
		if l.Action == entity.LogActionUpdate && l.RequestState == entity.RequestStateSigned {
			signedTransitions++
		}
	}
	assert.Equal(t, 1, signedTransitions)
	assert.Len(t, h.mailer.ByTemplate(entity.MailTemplateCompleted), 2)
}

func TestCancelRegeneratesTokenAndCascades(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID
	oldToken := detail.Request.AccessToken.Reveal()

	h.sign(t, id, detail.Items[0])
	require.NoError(t, h.requests.Cancel(context.Background(), id, adminActor))

	got, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateCanceled, got.Request.State)
	assert.False(t, got.Request.AccessToken.Matches(oldToken))
	assert.Equal(t, entity.ItemStateCompleted, got.Items[0].State)
	assert.Equal(t, entity.ItemStateCanceled, got.Items[1].State)

	_, err = h.access.OpenByRequestToken(context.Background(), id, oldToken, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	_, err = h.items.Sign(context.Background(), &SignInput{
		RequestID: id,
		Token:     detail.Items[1].AccessToken.Reveal(),
		Signature: pngSignature,
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	assert.Equal(t, []entity.LogAction{
		entity.LogActionCreate,
		entity.LogActionSign,
		entity.LogActionCancel,
	}, h.actions(t, id))

	assert.ErrorIs(t, h.requests.Cancel(context.Background(), id, adminActor), entity.ErrStateConflict)
}

func TestBulkCancelIsPerRequest(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, twoSigners())
	second := h.create(t, twoSigners())
	require.NoError(t, h.requests.Cancel(context.Background(), second.Request.ID, adminActor))

	results := h.requests.BulkCancel(context.Background(), []int64{first.Request.ID, second.Request.ID, 999}, adminActor)
	require.Len(t, results, 3)
	assert.True(t, results[0].Canceled)
	assert.False(t, results[1].Canceled)
	assert.Equal(t, entity.KindStateConflict, results[1].Code)
	assert.Equal(t, entity.KindNotFound, results[2].Code)
}

func TestRefusalRefusesRequest(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	id := detail.Request.ID

	_, err := h.items.Refuse(context.Background(), &RefuseInput{
		RequestID: id,
		Token:     detail.Items[0].AccessToken.Reveal(),
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrValidation)

	refused, err := h.items.Refuse(context.Background(), &RefuseInput{
		RequestID: id,
		Token:     detail.Items[0].AccessToken.Reveal(),
		Reason:    "Wrong amount",
	}, signerActor)
	require.NoError(t, err)
	assert.Equal(t, entity.ItemStateRefused, refused.State)

	got, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateRefused, got.Request.State)

	notices := h.mailer.ByTemplate(entity.MailTemplateRefused)
	require.Len(t, notices, 1)
	assert.Equal(t, []string{"lin@example.com"}, notices[0].To)
	assert.Equal(t, "Wrong amount", notices[0].Context["reason"])

	_, err = h.items.Sign(context.Background(), &SignInput{
		RequestID: id,
		Token:     detail.Items[1].AccessToken.Reveal(),
		Signature: pngSignature,
	}, signerActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)

	logs, err := h.audit.ListLogs(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.NotNil(t, logs[1].ItemID)
	assert.Nil(t, logs[2].ItemID)
	assert.Equal(t, entity.LogActionRefuse, logs[2].Action)
	assert.Equal(t, int64(11), *logs[2].PartnerID)
}

func TestEncryptionPendingDefersDelivery(t *testing.T) {
	h := newHarness(t)
	in := twoSigners()
	in.EncryptionPending = true
	detail := h.create(t, in)
	id := detail.Request.ID

	h.sign(t, id, detail.Items[0])
	h.sign(t, id, detail.Items[1])

	got, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateSigned, got.Request.State)
	assert.Empty(t, got.Request.CompletedDocument)
	assert.Empty(t, h.mailer.ByTemplate(entity.MailTemplateCompleted))

	require.NoError(t, h.requests.MarkDecrypted(context.Background(), id, adminActor))
	assert.Len(t, h.mailer.ByTemplate(entity.MailTemplateCompleted), 2)

	require.NoError(t, h.requests.MarkDecrypted(context.Background(), id, adminActor))
	assert.Len(t, h.mailer.ByTemplate(entity.MailTemplateCompleted), 2)
}

func TestArchiveAndPartnerSignatures(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, twoSigners())
	second := h.create(t, twoSigners())
	h.sign(t, first.Request.ID, first.Items[0])
	require.NoError(t, h.requests.Cancel(context.Background(), second.Request.ID, adminActor))

	sigs, err := h.requests.PartnerSignatures(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, 1, sigs.SignatureCount)
	assert.Len(t, sigs.Requests, 2)

	require.NoError(t, h.requests.Archive(context.Background(), first.Request.ID, adminActor))
	got, err := h.requests.Get(context.Background(), first.Request.ID)
	require.NoError(t, err)
	assert.False(t, got.Request.Active)
}

func TestDirectCompletionBeforeAllSignedConflicts(t *testing.T) {
	h := newHarness(t)
	detail := h.create(t, twoSigners())
	uc := h.requests.(*signRequestUsecase)

	req := detail.Request
	err := uc.sign(context.Background(), req, detail.Items, adminActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)
}

func TestSendRequiresPendingSigner(t *testing.T) {
	h := newHarness(t)
	in := twoSigners()
	in.Shared = true
	detail := h.create(t, in)
	id := detail.Request.ID

	// a request imported with one signer already done and the other withdrawn
	items := memstore.NewSignRequestItemRepository(h.store)
	done := detail.Items[0]
	done.State = entity.ItemStateCompleted
	require.NoError(t, items.Update(context.Background(), done))
	withdrawn := detail.Items[1]
	withdrawn.State = entity.ItemStateCanceled
	require.NoError(t, items.Update(context.Background(), withdrawn))

	_, err := h.requests.Send(context.Background(), id, adminActor)
	assert.ErrorIs(t, err, entity.ErrStateConflict)

	got, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateShared, got.Request.State)
	assert.Equal(t, []entity.LogAction{entity.LogActionCreate}, h.actions(t, id))
	assert.Empty(t, h.mailer.ByTemplate(entity.MailTemplateAccess))
}
