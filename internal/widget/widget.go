// Package widget is the contract between the assistant core and the page:
// feature-gated mounting, visual props and the rendered element tree.
package widget

import (
	"fmt"
	"sync"

	"github.com/comigor/citizen-assistant/internal/a11y"
	"github.com/comigor/citizen-assistant/internal/assistant"
	"github.com/comigor/citizen-assistant/internal/config"
)

// FeatureFlags tells whether a named feature is on.
type FeatureFlags interface {
	Enabled(flag string) bool
}

// TransportFactory builds the transport only once the widget is enabled.
type TransportFactory func() (assistant.Transport, error)

// Widget owns one conversation and its announcer for the page lifetime.
type Widget struct {
	Conversation *assistant.Conversation
	Announcer    *a11y.Announcer

	mu    sync.RWMutex
	props Props
}

// Mount creates the widget. When the assistant flag is off it returns
// (nil, nil) without building a transport or a conversation, so nothing is
// ever sent. All Widget methods are safe on a nil receiver.
func Mount(flags FeatureFlags, cfg config.AssistantConfig, newTransport TransportFactory, opts ...assistant.Option) (*Widget, error) {
	if flags == nil || !flags.Enabled(config.FeatureAssistant) {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("assistant config: %w", err)
	}
	transport, err := newTransport()
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	announcer := a11y.NewAnnouncer(a11y.DefaultRegionID)
	opts = append([]assistant.Option{assistant.WithObserver(announcer)}, opts...)
	return &Widget{
		Conversation: assistant.New(transport, cfg, opts...),
		Announcer:    announcer,
	}, nil
}

// Props returns the current visual props.
func (w *Widget) Props() Props {
	if w == nil {
		return Props{}
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.props
}

// SetProps replaces the visual props.
func (w *Widget) SetProps(p Props) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.props = p
	w.mu.Unlock()
}

// Update applies fn to the visual props.
func (w *Widget) Update(fn func(*Props)) {
	if w == nil {
		return
	}
	w.mu.Lock()
	fn(&w.props)
	w.mu.Unlock()
}

func (w *Widget) Open()     { w.Update(func(p *Props) { p.Open, p.Minimized = true, false }) }
func (w *Widget) Hide()     { w.Update(func(p *Props) { p.Open = false }) }
func (w *Widget) Minimize() { w.Update(func(p *Props) { p.Minimized = true }) }
func (w *Widget) Expand()   { w.Update(func(p *Props) { p.Minimized = false }) }

// Render renders the current state. It returns nil for a disabled widget.
func (w *Widget) Render() *Node {
	if w == nil {
		return nil
	}
	return Render(w.Props(), w.Conversation.Snapshot(), w.Announcer.Region())
}

// Unmount stops the conversation.
func (w *Widget) Unmount() {
	if w == nil {
		return
	}
	w.Conversation.Close()
}
