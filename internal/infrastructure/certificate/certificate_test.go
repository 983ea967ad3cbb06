package certificate

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-vrtl/internal/domain/entity"
)

func TestRenderProducesPDF(t *testing.T) {
	signed := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	req := &entity.SignRequest{
		ID:             3,
		Reference:      "NDA-2024-003",
		Subject:        "Mutual NDA",
		State:          entity.RequestStateSigned,
		CreatedAt:      signed.Add(-48 * time.Hour),
		CompletionDate: &signed,
	}
	items := []*entity.SignRequestItem{
		{SignerName: "Alice", SignerEmail: "alice@example.com", Role: "Customer", State: entity.ItemStateCompleted, SigningDate: &signed},
	}
	logs := []*entity.SignLog{
		{Date: signed, Action: entity.LogActionSign, RequestState: entity.RequestStateSent, IP: "10.0.0.1", LogHash: "abc123"},
	}

	out, err := NewRenderer().Render(req, items, logs)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}
