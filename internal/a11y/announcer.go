// Package a11y mirrors conversation transitions into a live status region
// for assistive technology. The region exists for the whole lifetime of the
// widget, whatever its visual state.
package a11y

import (
	"fmt"
	"sync"
	"time"

	"github.com/comigor/citizen-assistant/internal/assistant"
)

// Politeness is the aria-live level of an announcement.
type Politeness string

const (
	Polite    Politeness = "polite"
	Assertive Politeness = "assertive"
)

// DefaultRegionID is the DOM id of the live region.
const DefaultRegionID = "assistant-live-region"

const defaultHistory = 50

// Announcement is one message pushed to the live region.
type Announcement struct {
	Key        string
	Text       string
	Politeness Politeness
	At         time.Time
}

// LiveRegion is the current content of the status node.
type LiveRegion struct {
	ID         string
	Role       string
	Politeness Politeness
	Text       string
	// Seq increases with every announcement so renderers can tell a repeat
	// of the same text from no change.
	Seq uint64
}

// Announcer implements assistant.Observer.
type Announcer struct {
	mu        sync.RWMutex
	region    LiveRegion
	lastKey   string
	history   []Announcement
	limit     int
	listeners []func(Announcement)
	now       func() time.Time
}

// NewAnnouncer creates an announcer whose region uses id (DefaultRegionID
// when empty).
func NewAnnouncer(id string) *Announcer {
	if id == "" {
		id = DefaultRegionID
	}
	return &Announcer{
		region: LiveRegion{ID: id, Role: "status", Politeness: Polite},
		limit:  defaultHistory,
		now:    time.Now,
	}
}

// OnAnnounce registers fn to be called after each announcement.
func (a *Announcer) OnAnnounce(fn func(Announcement)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Observe translates a transition into zero or more announcements.
func (a *Announcer) Observe(t assistant.Transition) {
	if t.From == assistant.StateDisconnected && t.Trigger == assistant.TriggerReconnected {
		a.announce("restored", "Connection restored.", Polite)
	}

	switch {
	case t.Trigger == assistant.TriggerClear:
		a.announce("cleared", "Conversation cleared.", Polite)
	case t.To == assistant.StateSending, t.To == assistant.StateAwaitingReply:
		a.announce("sending", "Sending message…", Polite)
	case t.To == assistant.StateTypingPause:
		a.announce("typing", "Assistant is typing…", Polite)
	case t.Trigger == assistant.TriggerSucceeded && t.Reply != nil:
		text := t.Reply.Content
		if text == "" {
			text = "The assistant sent an empty reply."
		}
		a.announce(fmt.Sprintf("reply:%d", t.Reply.ID), "Assistant: "+text, Polite)
	case t.To == assistant.StateError && t.Trigger != assistant.TriggerReconnected:
		msg := "Your message could not be sent. You can try again."
		if t.Snapshot.RetryScheduled {
			msg = "Your message could not be sent. Retrying automatically."
		}
		a.announce("error", msg, Assertive)
	case t.To == assistant.StateDisconnected:
		a.announce("reconnecting", "Connection lost. Reconnecting…", Assertive)
	}
}

func (a *Announcer) announce(key, text string, p Politeness) {
	a.mu.Lock()
	if key == a.lastKey {
		a.mu.Unlock()
		return
	}
	a.lastKey = key
	ann := Announcement{Key: key, Text: text, Politeness: p, At: a.now()}
	a.region.Text = text
	a.region.Politeness = p
	a.region.Seq++
	a.history = append(a.history, ann)
	if len(a.history) > a.limit {
		a.history = append([]Announcement(nil), a.history[len(a.history)-a.limit:]...)
	}
	listeners := append(([]func(Announcement))(nil), a.listeners...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(ann)
	}
}

// Region returns the current live-region content.
func (a *Announcer) Region() LiveRegion {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.region
}

// History returns recent announcements, oldest first.
func (a *Announcer) History() []Announcement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Announcement(nil), a.history...)
}
