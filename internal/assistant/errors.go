package assistant

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Operation rejections returned by the public Conversation methods.
var (
	ErrBusy              = errors.New("a message is already being sent")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrNothingToRetry    = errors.New("no failed message to retry")
	ErrClosed            = errors.New("conversation closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrorKind classifies a failed exchange with the chat endpoint.
type ErrorKind string

const (
	KindNetworkTimeout     ErrorKind = "network_timeout"
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	KindHTTPStatus         ErrorKind = "http_status"
	KindMalformedResponse  ErrorKind = "malformed_response"
	KindSessionInvalid     ErrorKind = "session_invalid"
)

// ChatError is the only error type the Transport returns. StatusCode is zero
// for network kinds. Excerpt is a bounded prefix of the raw response body and
// is meant for the developer channel only.
type ChatError struct {
	Kind       ErrorKind
	StatusCode int
	Excerpt    string
	Err        error
}

func (e *ChatError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Excerpt != "" {
			return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Excerpt)
		}
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	case KindSessionInvalid:
		return fmt.Sprintf("session invalid (HTTP %d)", e.StatusCode)
	case KindMalformedResponse:
		if e.Err != nil {
			return fmt.Sprintf("malformed response (HTTP %d): %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("malformed response (HTTP %d)", e.StatusCode)
	case KindNetworkTimeout:
		return fmt.Sprintf("network timeout: %v", e.Err)
	case KindNetworkUnavailable:
		return fmt.Sprintf("network unavailable: %v", e.Err)
	}
	return fmt.Sprintf("chat error %s", e.Kind)
}

func (e *ChatError) Unwrap() error { return e.Err }

// Recoverable reports whether the failure is eligible for automatic retry.
func (e *ChatError) Recoverable() bool {
	switch e.Kind {
	case KindNetworkTimeout, KindNetworkUnavailable, KindMalformedResponse:
		return true
	case KindHTTPStatus:
		return retryableStatus(e.StatusCode)
	}
	return false
}

// ConnectivityLost reports a transport-level failure to reach the endpoint
// at all, as opposed to an HTTP error or a slow response.
func (e *ChatError) ConnectivityLost() bool {
	return e.Kind == KindNetworkUnavailable
}

// UserMessage is the short, non-technical notice shown to citizens.
func (e *ChatError) UserMessage() string {
	switch e.Kind {
	case KindNetworkTimeout, KindNetworkUnavailable:
		return "We couldn't reach the assistant. Check your connection and try again."
	case KindSessionInvalid:
		return "Your conversation session expired. Please send your message again."
	}
	if e.Recoverable() {
		return "The assistant is having trouble right now. Please try again."
	}
	return "Your message couldn't be sent. Please try again."
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// AsChatError returns err as a *ChatError when it is one.
func AsChatError(err error) (*ChatError, bool) {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// excerpt truncates body to at most limit bytes without splitting a rune.
func excerpt(body []byte, limit int) string {
	if limit <= 0 || len(body) <= limit {
		return string(body)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "…"
}
