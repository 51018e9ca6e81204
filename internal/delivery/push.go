package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPushTimeout       = 5 * time.Second
	defaultPushRatePerSecond = 50
	defaultPushBurst         = 10
	maxGatewayErrorBody      = 512
)

// ErrMissingGatewayURL indicates that remote push was configured without a gateway.
var ErrMissingGatewayURL = errors.New("delivery: push gateway url required")

// PushConfig describes the remote push gateway client.
type PushConfig struct {
	GatewayURL    string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// PushTransport posts notifications to a remote push gateway.
type PushTransport struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
}

type pushRequest struct {
	Token       string      `json:"token"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	Urgent      bool        `json:"urgent"`
	Sound       string      `json:"sound,omitempty"`
	CollapseKey string      `json:"collapseKey,omitempty"`
	Data        MessageData `json:"data"`
}

// NewPushTransport constructs the gateway client.
func NewPushTransport(cfg PushConfig) (*PushTransport, error) {
	gatewayURL := strings.TrimSpace(cfg.GatewayURL)
	if gatewayURL == "" {
		return nil, ErrMissingGatewayURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = defaultPushRatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultPushBurst
	}
	return &PushTransport{
		gatewayURL: gatewayURL,
		apiKey:     cfg.APIKey,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}, nil
}

// Send delivers message to the device holding token and classifies the gateway response.
func (t *PushTransport) Send(ctx context.Context, token string, message Message) Outcome {
	if strings.TrimSpace(token) == "" {
		return permanentFailure("missing channel token", true)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return transientFailure(fmt.Sprintf("rate limit wait: %v", err))
	}

	payload := pushRequest{
		Token:       token,
		Title:       message.Title,
		Body:        message.Body,
		Urgent:      message.Urgent,
		CollapseKey: message.Data.RoomID.String() + ":" + message.Data.AlertKind.String(),
		Data:        message.Data,
	}
	if message.Urgent {
		payload.Sound = "default"
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return permanentFailure(fmt.Sprintf("encode payload: %v", err), false)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.gatewayURL, bytes.NewReader(encoded))
	if err != nil {
		return permanentFailure(fmt.Sprintf("build request: %v", err), false)
	}
	request.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return transientFailure(fmt.Sprintf("gateway request: %v", err))
	}
	defer response.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(response.Body, maxGatewayErrorBody))

	return classifyGatewayStatus(response.StatusCode, strings.TrimSpace(string(detail)))
}

func classifyGatewayStatus(status int, detail string) Outcome {
	reason := fmt.Sprintf("gateway status %d", status)
	if detail != "" {
		reason += ": " + detail
	}
	switch {
	case status >= 200 && status < 300:
		return delivered()
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusGone:
		return permanentFailure(reason, true)
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return transientFailure(reason)
	default:
		return permanentFailure(reason, false)
	}
}
