package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/infrastructure/certificate"
	"sign-vrtl/internal/infrastructure/document"
	"sign-vrtl/internal/infrastructure/geoip"
	"sign-vrtl/internal/infrastructure/lock"
	"sign-vrtl/internal/infrastructure/mailer"
	"sign-vrtl/internal/infrastructure/memstore"
)

var pngSignature = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeMailer struct {
	mu   sync.Mutex
	fail bool
	sent []*entity.MailMessage
}

func (m *fakeMailer) Send(ctx context.Context, msg *entity.MailMessage) (*entity.DeliveryHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("smtp unavailable")
	}
	c := *msg
	m.sent = append(m.sent, &c)
	return &entity.DeliveryHandle{MessageID: msg.ID, Provider: "fake"}, nil
}

func (m *fakeMailer) SetFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *fakeMailer) ByTemplate(template entity.MailTemplate) []*entity.MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.MailMessage
	for _, msg := range m.sent {
		if msg.Template == template {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	store    *memstore.Store
	clock    *fixedClock
	mailer   *fakeMailer
	queue    mailer.RetryQueue
	links    LinkSigner
	audit    AuditUsecase
	notify   NotificationUsecase
	requests SignRequestUsecase
	items    SignItemUsecase
	reminder ReminderUsecase
	access   AccessUsecase
}

var (
	adminActor  = entity.ActorContext{UserID: int64Ptr(7), IP: "10.0.0.1"}
	signerActor = entity.AnonymousActor("203.0.113.9")
)

func int64Ptr(v int64) *int64 { return &v }

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		App: config.AppConfig{BaseURL: "https://sign.example.com/"},
		Sign: config.SignConfig{
			LinkSecret:        "link-secret",
			MaxSignatureBytes: 1 << 20,
			RetryBatch:        10,
			MaxMailAttempts:   3,
			SweepWorkers:      2,
		},
	}
	logger := zap.NewNop()

	attachments, err := document.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)

	h := &harness{
		store:  memstore.NewStore(),
		clock:  &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		mailer: &fakeMailer{},
		queue:  mailer.NewMemoryRetryQueue(),
		links:  NewLinkSigner(cfg),
	}

	requests := memstore.NewSignRequestRepository(h.store)
	items := memstore.NewSignRequestItemRepository(h.store)
	logs := memstore.NewSignLogRepository(h.store)
	runner := NewTxRunner(memstore.NewTransactor(h.store), lock.NewMemoryLocker(), requests, logger)
	geo := geoip.StaticResolver{Point: entity.GeoPoint{Latitude: 48.85, Longitude: 2.35, Known: true}}

	h.audit = NewAuditUsecase(requests, logs, geo, h.clock, logger)
	h.notify = NewNotificationUsecase(cfg, requests, items, logs, memstore.NewMailDeliveryRepository(h.store), runner, h.mailer, h.queue,
		attachments, certificate.NewRenderer(), h.links, h.clock, logger)
	h.requests = NewSignRequestUsecase(cfg, requests, items, runner, h.audit, h.notify, h.clock, logger)
	h.items = NewSignItemUsecase(requests, items, runner, h.audit, h.notify, h.requests,
		NewSignatureValidator(cfg), attachments, h.links, h.clock, logger)
	h.reminder = NewReminderUsecase(cfg, requests, items, runner, h.audit, h.notify, h.clock, logger)
	h.access = NewAccessUsecase(requests, items, runner, h.audit, h.links, geo, attachments, h.clock, logger)
	return h
}

func twoSigners() *CreateSignRequestInput {
	return &CreateSignRequestInput{
		Reference: "SO-0042",
		Message:   "Please review and sign.",
		Signers: []SignerInput{
			{PartnerID: 11, Name: "Ada", Email: "ada@example.com", Role: "customer"},
			{PartnerID: 12, Name: "Lin", Email: "lin@example.com", Role: "supplier"},
		},
	}
}

func (h *harness) create(t *testing.T, in *CreateSignRequestInput) *SignRequestDetail {
	t.Helper()
	detail, err := h.requests.Create(context.Background(), in, adminActor)
	require.NoError(t, err)
	return detail
}

func (h *harness) sign(t *testing.T, requestID int64, item *entity.SignRequestItem) *entity.SignRequestItem {
	t.Helper()
	signed, err := h.items.Sign(context.Background(), &SignInput{
		RequestID: requestID,
		Token:     item.AccessToken.Reveal(),
		Signature: pngSignature,
	}, signerActor)
	require.NoError(t, err)
	return signed
}

func (h *harness) actions(t *testing.T, requestID int64) []entity.LogAction {
	t.Helper()
	logs, err := h.audit.ListLogs(context.Background(), requestID)
	require.NoError(t, err)
	out := make([]entity.LogAction, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}
