package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// LogAction is the lifecycle action recorded by a log entry
type LogAction string

const (
	LogActionCreate     LogAction = "create"
	LogActionOpen       LogAction = "open"
	LogActionSave       LogAction = "save"
	LogActionSign       LogAction = "sign"
	LogActionRefuse     LogAction = "refuse"
	LogActionCancel     LogAction = "cancel"
	LogActionUpdateMail LogAction = "update_mail"
	LogActionUpdate     LogAction = "update"
)

// SignLog is an immutable audit entry. LogHash chains it to the previous entry of the
// same request.
type SignLog struct {
	ID           int64        `json:"id"`
	Date         time.Time    `json:"date"`
	RequestID    int64        `json:"sign_request_id"`
	ItemID       *int64       `json:"sign_request_item_id,omitempty"`
	UserID       *int64       `json:"user_id,omitempty"`
	PartnerID    *int64       `json:"partner_id,omitempty"`
	IP           string       `json:"ip"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	Action       LogAction    `json:"action"`
	RequestState RequestState `json:"request_state"`
	Token        string       `json:"-"`
	LogHash      string       `json:"log_hash"`
}

// hashedFields fixes the field order of the canonical serialization
type hashedFields struct {
	RequestID    int64        `json:"sign_request_id"`
	ItemID       *int64       `json:"sign_request_item_id"`
	UserID       *int64       `json:"user_id"`
	PartnerID    *int64       `json:"partner_id"`
	IP           string       `json:"ip"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	Action       LogAction    `json:"action"`
	RequestState RequestState `json:"request_state"`
	Token        string       `json:"token"`
	Date         string       `json:"date"`
}

// NormalizeLogDate drops precision the database cannot store so a hash computed before
// insert still matches after a round trip.
func NormalizeLogDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CanonicalBytes serializes every field except id and hash
func (l *SignLog) CanonicalBytes() ([]byte, error) {
	return json.Marshal(hashedFields{
		RequestID:    l.RequestID,
		ItemID:       l.ItemID,
		UserID:       l.UserID,
		PartnerID:    l.PartnerID,
		IP:           l.IP,
		Latitude:     l.Latitude,
		Longitude:    l.Longitude,
		Action:       l.Action,
		RequestState: l.RequestState,
		Token:        l.Token,
		Date:         NormalizeLogDate(l.Date).Format(time.RFC3339Nano),
	})
}

// ComputeHash returns hex(sha256(canonical || prevHash))
func (l *SignLog) ComputeHash(prevHash string) (string, error) {
	payload, err := l.CanonicalBytes()
	if err != nil {
		return "", fmt.Errorf("failed to serialize sign log: %w", err)
	}
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SealAfter links the entry to last, the most recent entry of the same request (nil
// for the first one). The date never moves backwards along a chain so the (date, id)
// order matches insertion order.
func (l *SignLog) SealAfter(last *SignLog) error {
	l.Date = NormalizeLogDate(l.Date)
	prev := ""
	if last != nil {
		if l.Date.Before(last.Date) {
			l.Date = NormalizeLogDate(last.Date)
		}
		prev = last.LogHash
	}
	hash, err := l.ComputeHash(prev)
	if err != nil {
		return err
	}
	l.LogHash = hash
	return nil
}

// SortLogs orders entries by (date, id)
func SortLogs(logs []*SignLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].Date.Equal(logs[j].Date) {
			return logs[i].Date.Before(logs[j].Date)
		}
		return logs[i].ID < logs[j].ID
	})
}

// IntegrityReport is the outcome of recomputing a request's hash chain
type IntegrityReport struct {
	RequestID     int64  `json:"request_id"`
	Intact        bool   `json:"intact"`
	Checked       int    `json:"checked"`
	FirstBrokenID *int64 `json:"first_broken_log_id,omitempty"`
	ExpectedHash  string `json:"expected_hash,omitempty"`
	StoredHash    string `json:"stored_hash,omitempty"`
}

// VerifyChain recomputes every hash in (date, id) order and stops at the first
// entry whose stored hash differs.
func VerifyChain(requestID int64, logs []*SignLog) (IntegrityReport, error) {
	ordered := make([]*SignLog, len(logs))
	copy(ordered, logs)
	SortLogs(ordered)

	report := IntegrityReport{RequestID: requestID, Intact: true}
	prev := ""
	for _, entry := range ordered {
		expected, err := entry.ComputeHash(prev)
		if err != nil {
			return report, err
		}
		report.Checked++
		if expected != entry.LogHash {
			id := entry.ID
			report.Intact = false
			report.FirstBrokenID = &id
			report.ExpectedHash = expected
			report.StoredHash = entry.LogHash
			return report, nil
		}
		prev = entry.LogHash
	}
	return report, nil
}
