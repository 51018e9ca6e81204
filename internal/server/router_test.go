package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/auth"
	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/ErinHernandez/TopDog-sub011/internal/dispatch"
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/ErinHernandez/TopDog-sub011/internal/presence"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "draft-alerts"
)

type stubDispatcher struct {
	mu      sync.Mutex
	changes []draft.Change
	report  dispatch.Report
	err     error
}

func (s *stubDispatcher) HandleChange(_ context.Context, change draft.Change) (dispatch.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change)
	return s.report, s.err
}

type testHarness struct {
	handler    http.Handler
	dispatcher *stubDispatcher
	hub        *delivery.LiveHub
	issuer     *auth.Issuer
}

func newTestHarness(t *testing.T, logger *zap.Logger) testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	registry := prometheus.NewRegistry()
	dispatch.NewMetrics(registry)

	dispatcher := &stubDispatcher{}
	hub := delivery.NewLiveHub()
	handler, err := NewHTTPHandler(Dependencies{
		Dispatcher:        dispatcher,
		Validator:         validator,
		LiveHub:           hub,
		Gatherer:          registry,
		Logger:            logger,
		HeartbeatInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testHarness{handler: handler, dispatcher: dispatcher, hub: hub, issuer: issuer}
}

func (h testHarness) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	token, _, err := h.issuer.Issue(subject, roles...)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func postChange(handler http.Handler, token string, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/internal/draft-changes", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

const changeBody = `{"event_id":"evt-1","after":{"snapshot":{"room_id":"room-1","status":"active","participants":["user-1","user-2"],"max_participants":2,"current_round":1,"turn_timer_seconds":30,"current_picker_id":"user-1"}}}`

func TestDraftChangeWebhookDispatchesAndSummarizes(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	harness.dispatcher.report = dispatch.Report{
		EventID:   "evt-1",
		RoomID:    "room-1",
		State:     dispatch.StateDone,
		Occasions: []draft.Occasion{{Kind: draft.AlertOnTheClock, RoomID: "room-1", Round: 1, Subject: "user-1"}},
		Records: []delivery.Record{
			{RecipientID: "user-1", Kind: draft.AlertOnTheClock, Outcome: delivery.Outcome{Status: delivery.OutcomeDelivered}},
		},
		Contended: 1,
	}

	recorder := postChange(harness.handler, harness.token(t, "draft-engine", auth.RoleTrigger), changeBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response changeResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.State != "done" || response.Delivered != 1 || response.Contended != 1 || len(response.Occasions) != 1 || response.Occasions[0] != "on_the_clock" {
		t.Fatalf("unexpected response %+v", response)
	}
	if len(harness.dispatcher.changes) != 1 || harness.dispatcher.changes[0].After.Snapshot.CurrentPickerID != "user-1" {
		t.Fatalf("expected change to reach dispatcher, got %+v", harness.dispatcher.changes)
	}
}

func TestDraftChangeWebhookRejectsCallers(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	if recorder := postChange(harness.handler, "", changeBody); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	participant := harness.token(t, "user-1", auth.RoleParticipant)
	if recorder := postChange(harness.handler, participant, changeBody); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for participant token, got %d", recorder.Code)
	}
	trigger := harness.token(t, "draft-engine", auth.RoleTrigger)
	if recorder := postChange(harness.handler, trigger, "{not json"); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", recorder.Code)
	}
	if len(harness.dispatcher.changes) != 0 {
		t.Fatalf("expected rejected requests to skip dispatch")
	}
}

func TestDraftChangeWebhookReportsDispatchFailure(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	harness.dispatcher.err = errors.New("ledger down")

	recorder := postChange(harness.handler, harness.token(t, "draft-engine", auth.RoleTrigger), changeBody)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 so the trigger redelivers, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "dispatch_failed") {
		t.Fatalf("unexpected error body %s", recorder.Body.String())
	}
}

func TestAuthorizeLogsExpiredTokenAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	harness := newTestHarness(t, zap.New(core))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Roles: []string{auth.RoleTrigger},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "draft-engine",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if recorder := postChange(harness.handler, signed, changeBody); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.FilterMessage("token validation failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
}

func TestAlertStreamDeliversLiveAlerts(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	server := httptest.NewServer(harness.handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader, err := presence.OpenStream(ctx, server.Client(), server.URL+"/alerts/stream", harness.token(t, "user-1", auth.RoleParticipant))
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer reader.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !harness.hub.Reachable("user-1") {
		if time.Now().After(deadline) {
			t.Fatal("stream session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	published := harness.hub.Publish(delivery.Message{
		RecipientID: "user-1",
		Title:       "You're on the clock",
		Urgent:      true,
		Data:        delivery.MessageData{AlertKind: draft.AlertOnTheClock, RoomID: "room-1", Round: 1},
	})
	if published != 1 {
		t.Fatalf("expected one session to accept the alert, got %d", published)
	}

	message, err := reader.Next()
	if err != nil {
		t.Fatalf("failed to read alert: %v", err)
	}
	if message.Data.AlertKind != draft.AlertOnTheClock || message.Data.RoomID != "room-1" {
		t.Fatalf("unexpected alert %+v", message)
	}
}

func TestAlertStreamRequiresParticipantToken(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	request := httptest.NewRequest(http.MethodGet, "/alerts/stream?access_token="+harness.token(t, "draft-engine", auth.RoleTrigger), http.NoBody)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for trigger token on stream, got %d", recorder.Code)
	}
}

func TestHealthMetricsAndCORS(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthy response, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if recorder.Code != http.StatusOK || !bytes.Contains(recorder.Body.Bytes(), []byte("draft_alerts_dispatch_duration_seconds")) {
		t.Fatalf("expected dispatcher metrics to be exposed, got %d", recorder.Code)
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/internal/draft-changes", http.NoBody)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder = httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, preflight)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if !strings.Contains(strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers")), "authorization") {
		t.Fatalf("expected Authorization to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingDispatcher) {
		t.Fatalf("expected missing dispatcher error, got %v", err)
	}
}
