package usecase

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
)

func TestLinkSignerRoundTrip(t *testing.T) {
	signer := NewLinkSigner(&config.Config{Sign: config.SignConfig{LinkSecret: "s3cret"}})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)

	ts, sig := signer.Sign(42, expires)
	require.NoError(t, signer.Verify(42, ts, sig, now))

	tests := []struct {
		name      string
		itemID    int64
		timestamp string
		signature string
		now       time.Time
	}{
		{"other item", 43, ts, sig, now},
		{"expired", 42, ts, sig, expires.Add(time.Second)},
		{"moved timestamp", 42, "9999999999", sig, now},
		{"garbled timestamp", 42, "tomorrow", sig, now},
		{"non hex signature", 42, ts, "zz" + sig[2:], now},
		{"uppercased signature", 42, ts, strings.ToUpper(sig) + "00", now},
		{"empty signature", 42, ts, "", now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signer.Verify(tt.itemID, tt.timestamp, tt.signature, tt.now)
			assert.ErrorIs(t, err, entity.ErrAccessDenied)
		})
	}
}

func TestLinkSignerWithoutSecretFailsClosed(t *testing.T) {
	signer := NewLinkSigner(&config.Config{})
	now := time.Now()
	ts, sig := signer.Sign(1, now.Add(time.Hour))
	assert.ErrorIs(t, signer.Verify(1, ts, sig, now), entity.ErrAccessDenied)
}

func TestSignatureValidator(t *testing.T) {
	v := NewSignatureValidator(&config.Config{Sign: config.SignConfig{MaxSignatureBytes: 128}})

	contentType, err := v.Validate(pngSignature)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)

	_, err = v.Validate(nil)
	assert.ErrorIs(t, err, entity.ErrValidation)
	_, err = v.Validate([]byte("<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"))
	assert.ErrorIs(t, err, entity.ErrValidation)
	_, err = v.Validate(append(append([]byte{}, pngSignature...), make([]byte, 128)...))
	assert.ErrorIs(t, err, entity.ErrValidation)
}

func TestDecodeSignature(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngSignature)

	data, err := DecodeSignature("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, pngSignature, data)

	data, err = DecodeSignature(encoded)
	require.NoError(t, err)
	assert.Equal(t, pngSignature, data)

	_, err = DecodeSignature("data:image/png;base64,")
	assert.ErrorIs(t, err, entity.ErrValidation)
	_, err = DecodeSignature("%%%")
	assert.ErrorIs(t, err, entity.ErrValidation)
}
