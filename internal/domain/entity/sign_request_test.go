package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRequestTransitions(t *testing.T) {
	tests := []struct {
		from RequestState
		to   RequestState
		ok   bool
	}{
		{RequestStateShared, RequestStateSent, true},
		{RequestStateShared, RequestStateCanceled, true},
		{RequestStateShared, RequestStateSigned, false},
		{RequestStateSent, RequestStateSigned, true},
		{RequestStateSent, RequestStateRefused, true},
		{RequestStateSent, RequestStateExpired, true},
		{RequestStateSigned, RequestStateCanceled, false},
		{RequestStateExpired, RequestStateSent, false},
		{RequestStateCanceled, RequestStateCanceled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			req := &SignRequest{ID: 1, State: tt.from}
			err := req.TransitionTo(tt.to)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, req.State)
			} else {
				assert.True(t, errors.Is(err, ErrStateConflict))
				assert.Equal(t, tt.from, req.State)
			}
		})
	}
}

func TestCancelRegeneratesToken(t *testing.T) {
	req := &SignRequest{ID: 1, State: RequestStateSent, AccessToken: "old-token"}

	require.NoError(t, req.Cancel())
	assert.Equal(t, RequestStateCanceled, req.State)
	assert.False(t, req.AccessToken.Matches("old-token"))
	assert.NotEmpty(t, req.AccessToken.Reveal())
}

func TestExpiryAndReminderDates(t *testing.T) {
	validity := day(2024, 1, 1)
	req := &SignRequest{
		State:        RequestStateSent,
		Validity:     &validity,
		Reminder:     3,
		LastReminder: day(2023, 12, 28),
		CreatedAt:    day(2023, 12, 1),
	}

	assert.False(t, req.IsExpiredAt(time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)))
	assert.True(t, req.IsExpiredAt(day(2024, 1, 2)))

	assert.False(t, req.ReminderDue(day(2023, 12, 30)))
	assert.True(t, req.ReminderDue(day(2023, 12, 31)))

	req.Reminder = 0
	assert.False(t, req.ReminderDue(day(2024, 6, 1)))
}

func TestLinkExpiryDefaultsToSixMonths(t *testing.T) {
	req := &SignRequest{CreatedAt: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)}
	assert.Equal(t, day(2024, 7, 15), req.LinkExpiry())
	assert.True(t, req.HasDefaultValidity())

	validity := day(2024, 2, 1)
	req.Validity = &validity
	assert.Equal(t, day(2024, 2, 2), req.LinkExpiry())
	assert.False(t, req.HasDefaultValidity())
}

func TestAllSignedIgnoresCanceledItems(t *testing.T) {
	items := []*SignRequestItem{
		{State: ItemStateCompleted},
		{State: ItemStateCanceled},
	}
	assert.True(t, AllSigned(items))

	items = append(items, &SignRequestItem{State: ItemStateSent})
	assert.False(t, AllSigned(items))

	assert.False(t, AllSigned([]*SignRequestItem{{State: ItemStateCanceled}}))
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats([]*SignRequestItem{
		{State: ItemStateCompleted},
		{State: ItemStateSent},
		{State: ItemStateCanceled},
	})
	assert.Equal(t, 1, stats.Wait)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, "1/2", stats.Progress)
	assert.True(t, stats.StartSign)
}

func TestItemTransitions(t *testing.T) {
	now := time.Now()

	item := &SignRequestItem{ID: 1, State: ItemStateSent, AccessToken: "tok"}
	require.NoError(t, item.CheckAccess("tok"))
	require.NoError(t, item.Sign("s3://bucket/sig.png", now))
	assert.Equal(t, ItemStateCompleted, item.State)
	assert.Equal(t, ErrAccessDenied, item.CheckAccess("tok"))
	assert.True(t, errors.Is(item.Cancel(true), ErrStateConflict))

	canceled := &SignRequestItem{ID: 2, State: ItemStateSent, AccessToken: "tok"}
	require.NoError(t, canceled.Cancel(true))
	assert.False(t, canceled.AccessToken.Matches("tok"))
	assert.True(t, errors.Is(canceled.Sign("ref", now), ErrStateConflict))
	assert.True(t, errors.Is(canceled.Refuse("no", now), ErrStateConflict))

	kept := &SignRequestItem{ID: 3, State: ItemStateSent, AccessToken: "tok"}
	require.NoError(t, kept.Cancel(false))
	assert.True(t, kept.AccessToken.Matches("tok"))
	assert.Equal(t, ErrAccessDenied, kept.CheckAccess("tok"))
}

func TestAccessTokenMatching(t *testing.T) {
	token := AccessToken("abc")
	assert.True(t, token.Matches("abc"))
	assert.False(t, token.Matches("abd"))
	assert.False(t, token.Matches("ab"))
	assert.False(t, AccessToken("").Matches(""))
	assert.Equal(t, "********", token.String())

	items := []*SignRequestItem{{ID: 1, AccessToken: "a"}, {ID: 2, AccessToken: "b"}}
	assert.Equal(t, int64(2), FindItemByToken(items, "b").ID)
	assert.Nil(t, FindItemByToken(items, "c"))
}
