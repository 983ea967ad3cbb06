package usecase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
)

// LinkSigner issues and checks expiring mail links. A link carries its expiry as a
// unix timestamp plus an HMAC-SHA256 over "<item id>.<timestamp>".
type LinkSigner interface {
	Sign(itemID int64, expiresAt time.Time) (timestamp, signature string)
	Verify(itemID int64, timestamp, signature string, now time.Time) error
}

type hmacLinkSigner struct {
	secret []byte
}

func NewLinkSigner(cfg *config.Config) LinkSigner {
	return &hmacLinkSigner{secret: []byte(cfg.Sign.LinkSecret)}
}

func (s *hmacLinkSigner) mac(itemID int64, timestamp string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(fmt.Sprintf("%d.%s", itemID, timestamp)))
	return m.Sum(nil)
}

func (s *hmacLinkSigner) Sign(itemID int64, expiresAt time.Time) (string, string) {
	timestamp := strconv.FormatInt(expiresAt.Unix(), 10)
	return timestamp, hex.EncodeToString(s.mac(itemID, timestamp))
}

// Verify fails closed: a missing secret, a malformed or past timestamp and a wrong
// signature are all reported as the same access denial.
func (s *hmacLinkSigner) Verify(itemID int64, timestamp, signature string, now time.Time) error {
	if len(s.secret) == 0 || timestamp == "" || signature == "" {
		return entity.ErrAccessDenied
	}

	expiresAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || now.Unix() > expiresAt {
		return entity.ErrAccessDenied
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return entity.ErrAccessDenied
	}
	if !hmac.Equal(provided, s.mac(itemID, timestamp)) {
		return entity.ErrAccessDenied
	}
	return nil
}
