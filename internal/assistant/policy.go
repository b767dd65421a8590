package assistant

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/comigor/citizen-assistant/internal/config"
)

// Action is what the conversation should do after a failed exchange.
type Action int

const (
	// ActionFail surfaces the error and waits for a manual retry.
	ActionFail Action = iota
	// ActionRetry re-issues the same turn after Delay.
	ActionRetry
	// ActionDisconnect holds the turn and starts reconnect probing.
	ActionDisconnect
)

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy decides retries and reconnect probing. It holds no per-conversation
// state: callers pass in how many automatic retries a turn already used.
type Policy struct {
	MaxRetries    int
	Initial       time.Duration
	Max           time.Duration
	Multiplier    float64
	ProbeInterval time.Duration
}

func NewPolicy(cfg config.AssistantConfig) Policy {
	return Policy{
		MaxRetries:    cfg.MaxRetries,
		Initial:       cfg.BackoffInitial,
		Max:           cfg.BackoffMax,
		Multiplier:    cfg.BackoffMultiplier,
		ProbeInterval: cfg.ProbeInterval,
	}
}

// NextRetry returns the delay before automatic retry number attempt
// (1-based), or false once MaxRetries is exhausted. Delays grow
// exponentially without jitter.
func (p Policy) NextRetry(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxRetries {
		return 0, false
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d, true
}

// Decide maps a classified failure to an action. retriesUsed is the number
// of automatic retries the turn has already consumed.
func (p Policy) Decide(err *ChatError, retriesUsed int) Decision {
	if err.ConnectivityLost() {
		return Decision{Action: ActionDisconnect}
	}
	if !err.Recoverable() {
		return Decision{Action: ActionFail}
	}
	if d, ok := p.NextRetry(retriesUsed + 1); ok {
		return Decision{Action: ActionRetry, Delay: d}
	}
	if err.Kind == KindNetworkTimeout {
		return Decision{Action: ActionDisconnect}
	}
	return Decision{Action: ActionFail}
}
