package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/delivery/http/handler"
	"sign-vrtl/internal/delivery/http/middleware"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/certificate"
	"sign-vrtl/internal/infrastructure/document"
	"sign-vrtl/internal/infrastructure/geoip"
	"sign-vrtl/internal/infrastructure/lock"
	"sign-vrtl/internal/infrastructure/mailer"
	"sign-vrtl/internal/infrastructure/memstore"
	"sign-vrtl/internal/usecase"
)

const jwtSecret = "jwt-secret"

var pngSignature = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type testServer struct {
	app   *fiber.App
	items repository.SignRequestItemRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		App: config.AppConfig{Name: "sign-vrtl-test", Env: "test", BaseURL: "http://localhost"},
		Sign: config.SignConfig{
			JWTSecret:         jwtSecret,
			LinkSecret:        "link-secret",
			MaxSignatureBytes: 1 << 20,
		},
	}
	logger := zap.NewNop()

	store := memstore.NewStore()
	requests := memstore.NewSignRequestRepository(store)
	items := memstore.NewSignRequestItemRepository(store)
	logs := memstore.NewSignLogRepository(store)
	attachments, err := document.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)

	clock := usecase.NewClock()
	links := usecase.NewLinkSigner(cfg)
	runner := usecase.NewTxRunner(memstore.NewTransactor(store), lock.NewMemoryLocker(), requests, logger)
	audit := usecase.NewAuditUsecase(requests, logs, geoip.NoopResolver{}, clock, logger)
	notify := usecase.NewNotificationUsecase(cfg, requests, items, logs, memstore.NewMailDeliveryRepository(store), runner, mailer.NewLogMailer(logger),
		mailer.NewMemoryRetryQueue(), attachments, certificate.NewRenderer(), links, clock, logger)
	signRequests := usecase.NewSignRequestUsecase(cfg, requests, items, runner, audit, notify, clock, logger)
	signItems := usecase.NewSignItemUsecase(requests, items, runner, audit, notify, signRequests,
		usecase.NewSignatureValidator(cfg), attachments, links, clock, logger)
	reminder := usecase.NewReminderUsecase(cfg, requests, items, runner, audit, notify, clock, logger)
	access := usecase.NewAccessUsecase(requests, items, runner, audit, links, geoip.NoopResolver{}, attachments, clock, logger)

	r := NewRouter(cfg,
		handler.NewSignRequestHandler(signRequests, signItems, audit, reminder, notify, logger),
		handler.NewSignerHandler(access, signItems, logger),
		handler.NewHealthHandler(),
		logger,
	)
	return &testServer{app: r.Setup(), items: items}
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, auth string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func (s *testServer) create(t *testing.T) (int64, []*entity.SignRequestItem) {
	t.Helper()
	status, env := s.do(t, "POST", "/api/v1/requests", bearer(t), map[string]interface{}{
		"reference": "INV-7",
		"validity":  time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
		"signers": []map[string]interface{}{
			{"partner_id": 1, "name": "Ada", "email": "ada@example.com", "role": "customer"},
			{"partner_id": 2, "name": "Lin", "email": "lin@example.com", "role": "supplier"},
		},
	})
	require.Equal(t, fiber.StatusCreated, status, env.Message)

	var detail struct {
		Request struct {
			ID    int64  `json:"id"`
			State string `json:"state"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "sent", detail.Request.State)

	items, err := s.items.ListByRequest(context.Background(), detail.Request.ID)
	require.NoError(t, err)
	return detail.Request.ID, items
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, "GET", "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, env.Success)
}

func TestAdminRoutesRequireBearer(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, "GET", "/api/v1/requests/1", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{UserID: 7}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)
	status, _ = s.do(t, "GET", "/api/v1/requests/1", "Bearer "+forged, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	auth := bearer(t)

	status, env := s.do(t, "POST", "/api/v1/requests", auth, map[string]interface{}{"reference": "X"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, env = s.do(t, "GET", "/api/v1/requests/999", auth, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	id, _ := s.create(t)
	status, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/requests/%d/cancel", id), auth, nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, env = s.do(t, "POST", fmt.Sprintf("/api/v1/requests/%d/cancel", id), auth, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "STATE_CONFLICT", env.Error.Code)
}

func TestPublicAccessDeniedIsGeneric(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t)

	for _, path := range []string{
		fmt.Sprintf("/sign/document/%d/wrong-token", id),
		"/sign/document/999/wrong-token",
		"/sign/document/abc/wrong-token",
		fmt.Sprintf("/sign/document/mail/%d/wrong-token?timestamp=1&exp=00", id),
	} {
		status, env := s.do(t, "GET", path, "", nil)
		assert.Equal(t, fiber.StatusForbidden, status, path)
		assert.Equal(t, "access denied", env.Message, path)
	}
}

func TestSigningFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	auth := bearer(t)
	id, items := s.create(t)

	status, _ := s.do(t, "GET", fmt.Sprintf("/sign/document/%d/%s", id, items[0].AccessToken.Reveal()), "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, "POST", fmt.Sprintf("/sign/save/%d/%s", id, items[0].AccessToken.Reveal()), "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	signature := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngSignature)
	for _, item := range items {
		status, env := s.do(t, "POST", fmt.Sprintf("/sign/sign/%d/%s", id, item.AccessToken.Reveal()), "",
			map[string]string{"signature": signature})
		require.Equal(t, fiber.StatusOK, status, env.Message)
	}

	status, env := s.do(t, "GET", fmt.Sprintf("/api/v1/requests/%d", id), auth, nil)
	require.Equal(t, fiber.StatusOK, status)
	var detail struct {
		Request struct {
			State string `json:"state"`
		} `json:"request"`
		Stats entity.RequestStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "signed", detail.Request.State)
	assert.Equal(t, "2/2", detail.Stats.Progress)

	status, env = s.do(t, "GET", fmt.Sprintf("/api/v1/requests/%d/integrity", id), auth, nil)
	require.Equal(t, fiber.StatusOK, status)
	var report entity.IntegrityReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Intact)
	assert.Equal(t, 6, report.Checked)

	status, _ = s.do(t, "GET", fmt.Sprintf("/api/v1/requests/%d/logs", id), auth, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, env = s.do(t, "GET", fmt.Sprintf("/api/v1/requests/%d/deliveries", id), auth, nil)
	require.Equal(t, fiber.StatusOK, status)
	var deliveries []entity.MailDelivery
	require.NoError(t, json.Unmarshal(env.Data, &deliveries))
	// two access mails, then one completed mail per signer
	require.Len(t, deliveries, 4)
	assert.Equal(t, entity.MailTemplateCompleted, deliveries[0].Template)
	for _, d := range deliveries {
		assert.Equal(t, entity.DeliveryStatusSent, d.Status)
	}
}

func TestRefuseRequiresReason(t *testing.T) {
	s := newTestServer(t)
	id, items := s.create(t)
	path := fmt.Sprintf("/sign/refuse/%d/%s", id, items[1].AccessToken.Reveal())

	status, env := s.do(t, "POST", path, "", map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, _ = s.do(t, "POST", path, "", map[string]string{"reason": "not mine"})
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, "POST", path, "", map[string]string{"reason": "again"})
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestPublicSignAndRefuseDenyUnknownRequests(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t)

	for _, path := range []string{
		"/sign/sign/999/x",
		"/sign/refuse/999/x",
		fmt.Sprintf("/sign/sign/%d/x", id),
		fmt.Sprintf("/sign/refuse/%d/x", id),
	} {
		status, env := s.do(t, "POST", path, "", map[string]string{"signature": "not base64", "reason": "no"})
		assert.Equal(t, fiber.StatusForbidden, status, path)
		assert.Equal(t, "access denied", env.Message, path)
	}
}
