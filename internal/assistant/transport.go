package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/comigor/citizen-assistant/internal/config"
	"github.com/comigor/citizen-assistant/internal/logger"
)

// Phase is a progress milestone of one exchange.
type Phase int

const (
	// PhaseRequestWritten: the request left the client.
	PhaseRequestWritten Phase = iota + 1
	// PhaseReplyStarted: a successful response started arriving.
	PhaseReplyStarted
)

// Request is one user turn as sent to the chat endpoint.
type Request struct {
	Message      string
	SessionToken string
	MessageID    uint64
	UserID       string
	// Progress, when set, is called from the transport goroutine.
	Progress func(Phase)
}

// Reply is a decoded successful response. SessionToken is set when the
// server assigned or rotated the session.
type Reply struct {
	Text         string
	SessionToken string
}

// Transport performs one logical exchange per user turn. Every non-nil error
// it returns is a *ChatError; it never touches conversation state.
type Transport interface {
	Send(ctx context.Context, req Request) (Reply, error)
	// Probe checks that the endpoint is reachable at all.
	Probe(ctx context.Context) error
}

type chatRequest struct {
	Message      string `json:"message"`
	SessionToken string `json:"sessionToken"`
}

type chatResponse struct {
	Reply        *string `json:"reply"`
	SessionToken string  `json:"sessionToken,omitempty"`
}

type chatErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPTransport talks to POST /chat over HTTP.
type HTTPTransport struct {
	endpoint     string
	client       *http.Client
	timeout      time.Duration
	probeTimeout time.Duration
	maxBody      int64
	excerptLimit int
	log          *slog.Logger
}

// NewHTTPTransport creates a transport for cfg.Endpoint. A nil client uses a
// fresh http.Client; per-request deadlines come from cfg.RequestTimeout.
func NewHTTPTransport(cfg config.AssistantConfig, client *http.Client) (*HTTPTransport, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be http or https", cfg.Endpoint)
	}
	if client == nil {
		client = &http.Client{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &HTTPTransport{
		endpoint:     u.String(),
		client:       client,
		timeout:      cfg.RequestTimeout,
		probeTimeout: cfg.ProbeTimeout,
		maxBody:      maxBody,
		excerptLimit: cfg.ExcerptLimit,
		log:          logger.L.With("component", "transport"),
	}, nil
}

const tracerName = "github.com/comigor/citizen-assistant/internal/assistant"

// Send posts the message and classifies whatever comes back.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Reply, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chat.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("chat.message_id", int64(req.MessageID))))
	defer span.End()

	reply, err := t.send(ctx, req)
	if ce, ok := AsChatError(err); ok {
		span.SetAttributes(
			attribute.String("chat.error_kind", string(ce.Kind)),
			attribute.Int("http.status_code", ce.StatusCode))
		span.SetStatus(codes.Error, ce.Error())
	}
	return reply, err
}

func (t *HTTPTransport) send(ctx context.Context, req Request) (Reply, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if req.Progress != nil {
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			WroteRequest: func(info httptrace.WroteRequestInfo) {
				if info.Err == nil {
					req.Progress(PhaseRequestWritten)
				}
			},
		})
	}

	body, err := json.Marshal(chatRequest{Message: req.Message, SessionToken: req.SessionToken})
	if err != nil {
		return Reply{}, &ChatError{Kind: KindNetworkUnavailable, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &ChatError{Kind: KindNetworkUnavailable, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%d", req.SessionToken, req.MessageID))
	if req.UserID != "" {
		httpReq.Header.Set("X-User-Id", req.UserID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Reply{}, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && req.Progress != nil {
		req.Progress(PhaseReplyStarted)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		return Reply{}, classifyNetworkError(err)
	}

	reply, err := Classify(resp.StatusCode, raw, t.excerptLimit)
	if err != nil {
		t.log.Debug("chat exchange failed", "status", resp.StatusCode, "error", err)
		return Reply{}, err
	}
	return reply, nil
}

// Probe sends HEAD to the endpoint. Any HTTP answer, whatever its status,
// proves the endpoint is reachable.
func (t *HTTPTransport) Probe(ctx context.Context) error {
	if t.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.probeTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.endpoint, nil)
	if err != nil {
		return &ChatError{Kind: KindNetworkUnavailable, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	resp.Body.Close()
	return nil
}

// Classify turns a raw status and body into a Reply or a *ChatError. It never
// panics on arbitrary input: non-JSON, empty and wrong-shape bodies all come
// back as MalformedResponse (2xx) or an HTTP kind (non-2xx).
func Classify(status int, body []byte, excerptLimit int) (Reply, error) {
	ex := excerpt(bytes.TrimSpace(body), excerptLimit)

	if status < 200 || status >= 300 {
		if status >= 400 && status < 500 && sessionRejected(status, body) {
			return Reply{}, &ChatError{Kind: KindSessionInvalid, StatusCode: status, Excerpt: ex}
		}
		return Reply{}, &ChatError{Kind: KindHTTPStatus, StatusCode: status, Excerpt: ex}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return Reply{}, &ChatError{Kind: KindMalformedResponse, StatusCode: status, Err: errors.New("empty body")}
	}
	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Reply{}, &ChatError{Kind: KindMalformedResponse, StatusCode: status, Excerpt: ex, Err: err}
	}
	if decoded.Reply == nil {
		return Reply{}, &ChatError{Kind: KindMalformedResponse, StatusCode: status, Excerpt: ex, Err: errors.New(`missing "reply" field`)}
	}
	return Reply{Text: *decoded.Reply, SessionToken: decoded.SessionToken}, nil
}

// sessionRejected recognizes a 4xx that invalidates the session token.
func sessionRejected(status int, body []byte) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, 419, 440:
		return true
	}
	var eb chatErrorBody
	if json.Unmarshal(body, &eb) != nil {
		return false
	}
	for _, code := range []string{eb.Error, eb.Code} {
		switch strings.ToLower(code) {
		case "session_invalid", "invalid_session", "session_expired":
			return true
		}
	}
	return false
}

func classifyNetworkError(err error) *ChatError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ChatError{Kind: KindNetworkTimeout, Err: err}
	}
	return &ChatError{Kind: KindNetworkUnavailable, Err: err}
}
