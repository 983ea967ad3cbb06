package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-vrtl/internal/domain/entity"
)

func TestFailedMailIsQueuedWithoutRollback(t *testing.T) {
	h := newHarness(t)
	h.mailer.SetFailing(true)
	detail := h.create(t, twoSigners())

	got, err := h.requests.Get(context.Background(), detail.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStateSent, got.Request.State)
	for _, item := range got.Items {
		assert.False(t, item.IsMailSent)
	}

	queued, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	h.mailer.SetFailing(false)
	result, err := h.notify.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Sent: 2}, result)

	got, err = h.requests.Get(context.Background(), detail.Request.ID)
	require.NoError(t, err)
	for _, item := range got.Items {
		assert.True(t, item.IsMailSent)
	}
}

func TestRetryDropsMailForCanceledRequest(t *testing.T) {
	h := newHarness(t)
	h.mailer.SetFailing(true)
	detail := h.create(t, twoSigners())
	require.NoError(t, h.requests.Cancel(context.Background(), detail.Request.ID, adminActor))

	h.mailer.SetFailing(false)
	result, err := h.notify.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Dropped: 2}, result)
	assert.Empty(t, h.mailer.ByTemplate(entity.MailTemplateAccess))
}

func TestRetryDropsMailForChangedAddress(t *testing.T) {
	h := newHarness(t)
	h.mailer.SetFailing(true)
	detail := h.create(t, twoSigners())
	h.mailer.SetFailing(false)

	_, err := h.items.UpdateSignerEmail(context.Background(), detail.Request.ID, detail.Items[0].ID, "ada.new@example.com", adminActor)
	require.NoError(t, err)

	result, err := h.notify.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Sent: 1, Dropped: 1}, result)
}

func TestRetryAbandonsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.mailer.SetFailing(true)
	h.create(t, twoSigners())

	// dispatch counts as the first of three attempts
	var last *RetryResult
	for i := 0; i < 2; i++ {
		var err error
		last, err = h.notify.RetryFailed(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, last.Abandoned)

	queued, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestDeliveriesRecordEveryAttempt(t *testing.T) {
	h := newHarness(t)
	h.mailer.SetFailing(true)
	detail := h.create(t, twoSigners())
	require.NoError(t, h.requests.Cancel(context.Background(), detail.Request.ID, adminActor))

	_, err := h.notify.RetryFailed(context.Background())
	require.NoError(t, err)

	deliveries, err := h.notify.Deliveries(context.Background(), detail.Request.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 4)

	statuses := map[entity.DeliveryStatus]int{}
	for _, d := range deliveries {
		statuses[d.Status]++
		assert.Equal(t, entity.MailTemplateAccess, d.Template)
		assert.Len(t, d.Recipients, 1)
	}
	assert.Equal(t, 2, statuses[entity.DeliveryStatusFailed])
	assert.Equal(t, 2, statuses[entity.DeliveryStatusDropped])
	assert.Equal(t, entity.DeliveryStatusDropped, deliveries[0].Status)
	assert.Equal(t, "smtp unavailable", deliveries[len(deliveries)-1].Error)
	assert.Equal(t, 1, deliveries[len(deliveries)-1].Attempt)

	_, err = h.notify.Deliveries(context.Background(), 999)
	assert.Equal(t, entity.KindNotFound, entity.KindOf(err))
}
