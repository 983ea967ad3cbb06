package usecase

import (
	"encoding/base64"
	"net/http"
	"strings"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
)

// SignatureValidator checks a signature payload before anything is written
type SignatureValidator interface {
	Validate(payload []byte) (contentType string, err error)
}

var signatureExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type imageSignatureValidator struct {
	maxBytes int
}

// NewSignatureValidator accepts non-empty raster images up to sign.max_signature_bytes
func NewSignatureValidator(cfg *config.Config) SignatureValidator {
	return &imageSignatureValidator{maxBytes: cfg.Sign.MaxSignatureBytes}
}

func (v *imageSignatureValidator) Validate(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", entity.NewValidationError("signature is required")
	}
	if v.maxBytes > 0 && len(payload) > v.maxBytes {
		return "", entity.NewValidationError("signature exceeds %d bytes", v.maxBytes)
	}
	contentType := http.DetectContentType(payload)
	if _, ok := signatureExtensions[contentType]; !ok {
		return "", entity.NewValidationError("signature must be a PNG, JPEG, GIF or WebP image")
	}
	return contentType, nil
}

// DecodeSignature accepts raw base64 or a data URL such as "data:image/png;base64,..."
func DecodeSignature(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	if encoded == "" {
		return nil, entity.NewValidationError("signature is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, entity.NewValidationError("signature is not valid base64")
	}
	return data, nil
}
