package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/citizen-assistant/internal/config"
	"github.com/comigor/citizen-assistant/internal/logger"
)

// Snapshot is a read-only view of the conversation for renderers.
type Snapshot struct {
	State          State
	Messages       []Message
	IsLoading      bool
	IsTyping       bool
	Error          *ChatError
	IsConnected    bool
	Connection     ConnectionStatus
	SessionToken   string
	RetryScheduled bool
	Held           int
}

// Transition is delivered to observers for every state machine move,
// including re-entries such as clearing an idle conversation.
type Transition struct {
	From     State
	To       State
	Trigger  Trigger
	Snapshot Snapshot
	// Reply is the assistant message appended by a Succeeded transition.
	Reply *Message
	// Err is the failure behind a failure or ConnectivityLost transition.
	Err *ChatError
}

// Observer receives transitions on the conversation goroutine. Observe must
// not block and must not call back into Conversation operations.
type Observer interface {
	Observe(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) Observe(t Transition) { f(t) }

// Diagnostic is a developer-facing record of one failed exchange.
type Diagnostic struct {
	SessionToken string
	MessageID    uint64
	Kind         ErrorKind
	StatusCode   int
	Excerpt      string
	Attempt      int
	At           time.Time
}

// DiagnosticsSink stores failure diagnostics out of the citizen's sight.
type DiagnosticsSink interface {
	Record(ctx context.Context, d Diagnostic)
}

// Option configures a Conversation.
type Option func(*Conversation)

func WithObserver(o Observer) Option {
	return func(c *Conversation) { c.observers = append(c.observers, o) }
}

func WithIdentity(id Identity) Option {
	return func(c *Conversation) { c.identity = id }
}

func WithDiagnostics(sink DiagnosticsSink) Option {
	return func(c *Conversation) { c.diagnostics = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) { c.log = l }
}

// turn is one user message and everything needed to (re)send it.
type turn struct {
	msgID    uint64
	content  string
	retries  int
	answered bool
}

// flight is the single outstanding request.
type flight struct {
	gen    uint64
	seq    uint64
	turn   *turn
	ctx    context.Context
	cancel context.CancelFunc
	req    Request
}

// diagnosticsBacklog bounds the failures waiting for the sink; past it new
// diagnostics are dropped rather than stalling the event loop.
const diagnosticsBacklog = 64

type opKind int

const (
	opSend opKind = iota
	opClear
	opDismiss
	opRetry
	opReconnect
	opOffline
)

type opEvent struct {
	kind  opKind
	text  string
	reply chan error
}

type resultEvent struct {
	gen, seq uint64
	reply    Reply
	err      *ChatError
}

type progressEvent struct {
	gen, seq uint64
	phase    Phase
}

type retryDueEvent struct {
	gen, id uint64
}

type probeDueEvent struct {
	gen, id uint64
}

type probeResultEvent struct {
	gen, id uint64
	err     error
}

type transitionNote struct {
	reply *Message
	err   *ChatError
}

// Conversation is the conversation state machine. All state is owned by a
// single event-loop goroutine; public methods post events to it. Transport
// calls and timers run on their own goroutines and report back tagged with
// the generation they started under, so anything that resolves after
// ClearMessages is dropped.
type Conversation struct {
	transport   Transport
	policy      Policy
	identity    Identity
	diagnostics DiagnosticsSink
	observers   []Observer
	log         *slog.Logger

	events  chan any
	diag    chan Diagnostic
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// loop-owned
	fsm      *stateless.StateMachine
	store    *Store
	session  Session
	gen      uint64
	seq      uint64
	inFlight *flight
	last     *turn
	lastErr  *ChatError
	held     []*turn
	resume   State
	note     transitionNote
	retryID  uint64
	retry    *time.Timer
	probeID  uint64
	probe    *time.Timer
	probing  bool

	snapMu sync.RWMutex
	snap   Snapshot
}

// New starts a conversation bound to transport. The session token is issued
// immediately. Call Close to stop the event loop.
func New(transport Transport, cfg config.AssistantConfig, opts ...Option) *Conversation {
	c := &Conversation{
		transport: transport,
		policy:    NewPolicy(cfg),
		log:       logger.L,
		events:    make(chan any, 32),
		diag:      make(chan Diagnostic, diagnosticsBacklog),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		store:     NewStore(time.Now),
		session:   newSession(),
		resume:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "conversation")
	c.fsm = newMachine(c.resumeState, c.onTransition)
	c.publish()

	go c.run()
	if c.diagnostics != nil {
		go c.recordLoop()
	}
	return c
}

// SendMessage submits a new user turn. It returns once the turn is accepted,
// not when the reply arrives. While a request is in flight it returns ErrBusy
// and has no effect. While disconnected the turn is held and replayed on
// reconnect; turns still held when it is accepted are sent before it.
func (c *Conversation) SendMessage(ctx context.Context, text string) error {
	return c.do(ctx, opSend, text)
}

// ClearMessages empties the log, issues a new session token and cancels any
// outstanding request, retry or reconnect probe.
func (c *Conversation) ClearMessages(ctx context.Context) error {
	return c.do(ctx, opClear, "")
}

// ClearError dismisses the current error and any scheduled retry.
func (c *Conversation) ClearError(ctx context.Context) error {
	return c.do(ctx, opDismiss, "")
}

// RetryLastMessage re-sends the failed turn and resets its automatic retry
// budget. While disconnected it probes the endpoint immediately instead.
func (c *Conversation) RetryLastMessage(ctx context.Context) error {
	return c.do(ctx, opRetry, "")
}

// Reconnect probes the endpoint immediately when disconnected.
func (c *Conversation) Reconnect(ctx context.Context) error {
	return c.do(ctx, opReconnect, "")
}

// NotifyOffline reports a host-level connectivity loss.
func (c *Conversation) NotifyOffline(ctx context.Context) error {
	return c.do(ctx, opOffline, "")
}

// NotifyOnline reports that the host believes it is online again.
func (c *Conversation) NotifyOnline(ctx context.Context) error {
	return c.do(ctx, opReconnect, "")
}

// Snapshot returns the latest published state.
func (c *Conversation) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Close stops the event loop and cancels outstanding work. It is safe to
// call more than once.
func (c *Conversation) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
}

func (c *Conversation) do(ctx context.Context, kind opKind, text string) error {
	reply := make(chan error, 1)
	select {
	case c.events <- opEvent{kind: kind, text: text, reply: reply}:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an event from a worker goroutine; it gives up once the loop
// has stopped.
func (c *Conversation) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conversation) run() {
	defer close(c.stopped)
	defer c.shutdown()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

func (c *Conversation) shutdown() {
	c.gen++
	c.cancelInFlight()
	c.cancelRetry()
	c.stopProbe()
}

func (c *Conversation) handle(ev any) {
	switch e := ev.(type) {
	case opEvent:
		err := c.handleOp(e)
		c.publish()
		e.reply <- err
	case resultEvent:
		c.handleResult(e)
	case progressEvent:
		c.handleProgress(e)
	case retryDueEvent:
		c.handleRetryDue(e)
	case probeDueEvent:
		c.handleProbeDue(e)
	case probeResultEvent:
		c.handleProbeResult(e)
	default:
		c.log.Error("unknown conversation event", "event", fmt.Sprintf("%T", ev))
	}
}

func (c *Conversation) handleOp(op opEvent) error {
	switch op.kind {
	case opSend:
		return c.submit(op.text)
	case opClear:
		return c.clear()
	case opDismiss:
		return c.dismiss()
	case opRetry:
		return c.manualRetry()
	case opReconnect:
		if c.state() == StateDisconnected {
			c.probeNow()
		}
		return nil
	case opOffline:
		c.connectivityLost(nil)
		return nil
	}
	return fmt.Errorf("unknown operation %d", op.kind)
}

func (c *Conversation) state() State {
	return c.fsm.MustState().(State)
}

func (c *Conversation) submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s := c.state()
	if c.inFlight != nil || isInFlight(s) {
		c.log.Debug("submit rejected: request in flight", "state", s)
		return ErrBusy
	}

	switch s {
	case StateDisconnected:
		m := c.store.Append(RoleUser, text, StatusPending)
		c.held = append(c.held, &turn{msgID: m.ID, content: text})
		c.log.Info("turn held while disconnected", "message_id", m.ID, "held", len(c.held))
		return nil
	case StateError:
		if c.retry != nil {
			return ErrBusy
		}
	}

	m := c.store.Append(RoleUser, text, StatusPending)
	c.last = nil
	t := &turn{msgID: m.ID, content: text}
	if len(c.held) > 0 {
		// Older held turns go first.
		c.held = append(c.held, t)
		t = c.popHeld()
	}
	return c.start(t, TriggerSubmit)
}

// start puts t on the wire and fires trigger, which must lead to Sending.
func (c *Conversation) start(t *turn, trigger Trigger) error {
	c.cancelRetry()
	c.lastErr = nil
	c.store.SetStatus(t.msgID, StatusPending)

	f := c.newFlight(t)
	if err := c.fire(trigger, transitionNote{}); err != nil {
		c.inFlight = nil
		f.cancel()
		c.store.SetStatus(t.msgID, StatusFailed)
		return err
	}
	c.launch(f)
	return nil
}

func (c *Conversation) newFlight(t *turn) *flight {
	c.seq++
	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{gen: c.gen, seq: c.seq, turn: t, ctx: ctx, cancel: cancel}
	f.req = Request{
		Message:      t.content,
		SessionToken: c.session.Token,
		MessageID:    t.msgID,
		Progress: func(p Phase) {
			c.post(progressEvent{gen: f.gen, seq: f.seq, phase: p})
		},
	}
	if c.identity != nil {
		f.req.UserID = c.identity.UserID()
	}
	c.inFlight = f
	return f
}

func (c *Conversation) launch(f *flight) {
	go func() {
		reply, err := c.transport.Send(f.ctx, f.req)
		ev := resultEvent{gen: f.gen, seq: f.seq, reply: reply}
		if err != nil {
			ce, ok := AsChatError(err)
			if !ok {
				ce = &ChatError{Kind: KindNetworkUnavailable, Err: err}
			}
			ev.err = ce
		}
		c.post(ev)
	}()
}

func (c *Conversation) current(gen, seq uint64) bool {
	return gen == c.gen && c.inFlight != nil && c.inFlight.seq == seq
}

func (c *Conversation) handleProgress(e progressEvent) {
	if !c.current(e.gen, e.seq) {
		return
	}
	s := c.state()
	switch e.phase {
	case PhaseRequestWritten:
		if s == StateSending {
			c.fireLogged(TriggerRequestWritten, transitionNote{})
		}
	case PhaseReplyStarted:
		if s == StateSending || s == StateAwaitingReply {
			c.fireLogged(TriggerReplyStarted, transitionNote{})
		}
	}
}

func (c *Conversation) handleResult(e resultEvent) {
	if !c.current(e.gen, e.seq) {
		c.log.Debug("dropping stale chat result", "gen", e.gen, "seq", e.seq)
		return
	}
	f := c.inFlight
	c.inFlight = nil
	f.cancel()

	if e.err != nil {
		c.fail(f.turn, e.err)
		return
	}
	c.succeed(f.turn, e.reply)
}

func (c *Conversation) succeed(t *turn, reply Reply) {
	if reply.SessionToken != "" && reply.SessionToken != c.session.Token {
		c.log.Info("adopting server-assigned session token")
		c.session.Token = reply.SessionToken
	}
	c.store.SetStatus(t.msgID, StatusSent)

	var note transitionNote
	if !t.answered {
		m := c.store.Append(RoleAssistant, reply.Text, "")
		t.answered = true
		note.reply = &m
	}
	t.retries = 0
	c.last = nil
	c.lastErr = nil
	c.fireLogged(TriggerSucceeded, note)
	c.dispatchHeld()
}

func (c *Conversation) fail(t *turn, err *ChatError) {
	c.store.SetStatus(t.msgID, StatusFailed)
	c.record(t, err)

	if err.Kind == KindSessionInvalid {
		c.session.Token = newSession().Token
		c.log.Warn("session rejected by server; issued a new token")
	}

	decision := c.policy.Decide(err, t.retries)
	switch decision.Action {
	case ActionDisconnect:
		c.lastErr = err
		c.held = append([]*turn{t}, c.held...)
		c.store.SetStatus(t.msgID, StatusPending)
		c.connectivityLost(err)
	case ActionRetry:
		c.last = t
		c.lastErr = err
		t.retries++
		c.fireLogged(TriggerRecoverableFailure, transitionNote{err: err})
		c.scheduleRetry(decision.Delay)
	default:
		c.last = t
		c.lastErr = err
		trigger := TriggerFatalFailure
		if err.Recoverable() {
			trigger = TriggerRecoverableFailure
		}
		c.fireLogged(trigger, transitionNote{err: err})
	}
}

func (c *Conversation) record(t *turn, err *ChatError) {
	c.log.Warn("chat exchange failed",
		"kind", err.Kind,
		"status", err.StatusCode,
		"excerpt", err.Excerpt,
		"message_id", t.msgID,
		"retries", t.retries,
		"error", err)
	if c.diagnostics == nil {
		return
	}
	d := Diagnostic{
		SessionToken: c.session.Token,
		MessageID:    t.msgID,
		Kind:         err.Kind,
		StatusCode:   err.StatusCode,
		Excerpt:      err.Excerpt,
		Attempt:      t.retries + 1,
		At:           time.Now(),
	}
	select {
	case c.diag <- d:
	default:
		c.log.Warn("diagnostics backlog full, dropping record", "message_id", t.msgID)
	}
}

// recordLoop hands diagnostics to the sink in order, off the event loop.
func (c *Conversation) recordLoop() {
	for {
		select {
		case d := <-c.diag:
			c.diagnostics.Record(context.Background(), d)
		case <-c.done:
			return
		}
	}
}

func (c *Conversation) scheduleRetry(d time.Duration) {
	c.cancelRetry()
	c.retryID++
	ev := retryDueEvent{gen: c.gen, id: c.retryID}
	c.retry = time.AfterFunc(d, func() { c.post(ev) })
	c.log.Debug("automatic retry scheduled", "delay", d, "retries", c.last.retries)
}

func (c *Conversation) cancelRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.retryID++
}

func (c *Conversation) handleRetryDue(e retryDueEvent) {
	if e.gen != c.gen || e.id != c.retryID || c.retry == nil {
		return
	}
	c.retry = nil
	if c.last == nil || c.state() != StateError {
		return
	}
	t := c.last
	if err := c.start(t, TriggerRetry); err != nil {
		c.log.Error("automatic retry failed to start", "error", err)
	}
}

func (c *Conversation) manualRetry() error {
	switch c.state() {
	case StateDisconnected:
		c.probeNow()
		return nil
	case StateError:
	default:
		if c.inFlight != nil {
			return ErrBusy
		}
		return ErrNothingToRetry
	}
	if c.last == nil {
		return ErrNothingToRetry
	}
	t := c.last
	t.retries = 0
	return c.start(t, TriggerRetry)
}

func (c *Conversation) dismiss() error {
	c.lastErr = nil
	if c.state() != StateError {
		return nil
	}
	c.cancelRetry()
	c.last = nil
	if err := c.fire(TriggerDismissError, transitionNote{}); err != nil {
		return err
	}
	c.dispatchHeld()
	return nil
}

func (c *Conversation) clear() error {
	c.gen++
	c.cancelInFlight()
	c.cancelRetry()
	c.stopProbe()

	c.store.Reset()
	c.held = nil
	c.last = nil
	c.lastErr = nil
	c.resume = StateIdle
	c.session = newSession()
	return c.fire(TriggerClear, transitionNote{})
}

func (c *Conversation) cancelInFlight() {
	if c.inFlight != nil {
		c.inFlight.cancel()
		c.inFlight = nil
	}
}

// connectivityLost moves to Disconnected, holding whatever was about to be
// sent so it is replayed rather than dropped.
func (c *Conversation) connectivityLost(err *ChatError) {
	s := c.state()
	if s == StateDisconnected {
		return
	}
	if c.inFlight != nil {
		t := c.inFlight.turn
		c.cancelInFlight()
		c.held = append([]*turn{t}, c.held...)
		c.store.SetStatus(t.msgID, StatusPending)
	}
	if c.retry != nil && c.last != nil {
		c.held = append([]*turn{c.last}, c.held...)
		c.store.SetStatus(c.last.msgID, StatusPending)
		c.last = nil
	}
	c.cancelRetry()

	c.resume = StateIdle
	if s == StateError && c.last != nil {
		c.resume = StateError
	}
	c.session.Connection = Disconnected
	c.fireLogged(TriggerConnectivityLost, transitionNote{err: err})
	c.scheduleProbe(c.policy.ProbeInterval)
}

// resumeState is consulted by the Disconnected exit. A prepared replay
// flight wins over the remembered state.
func (c *Conversation) resumeState() State {
	if c.inFlight != nil {
		return StateSending
	}
	return c.resume
}

func (c *Conversation) scheduleProbe(d time.Duration) {
	c.stopProbe()
	c.probeID++
	ev := probeDueEvent{gen: c.gen, id: c.probeID}
	c.probe = time.AfterFunc(d, func() { c.post(ev) })
}

func (c *Conversation) stopProbe() {
	if c.probe != nil {
		c.probe.Stop()
		c.probe = nil
	}
	c.probeID++
	c.probing = false
}

func (c *Conversation) probeNow() {
	if c.probing {
		return
	}
	c.stopProbe()
	c.probeID++
	c.launchProbe(c.probeID)
}

func (c *Conversation) handleProbeDue(e probeDueEvent) {
	if e.gen != c.gen || e.id != c.probeID || c.state() != StateDisconnected {
		return
	}
	c.probe = nil
	c.launchProbe(e.id)
}

func (c *Conversation) launchProbe(id uint64) {
	c.probing = true
	c.session.Connection = Reconnecting
	gen := c.gen
	go func() {
		err := c.transport.Probe(context.Background())
		c.post(probeResultEvent{gen: gen, id: id, err: err})
	}()
}

func (c *Conversation) handleProbeResult(e probeResultEvent) {
	if e.gen != c.gen || e.id != c.probeID || c.state() != StateDisconnected {
		return
	}
	c.probing = false
	if e.err != nil {
		c.session.Connection = Disconnected
		c.log.Debug("reconnect probe failed", "error", e.err)
		c.scheduleProbe(c.policy.ProbeInterval)
		return
	}
	c.reconnected()
}

func (c *Conversation) reconnected() {
	c.stopProbe()
	c.session.Connection = Connected

	// A failed turn awaiting manual retry keeps its place ahead of the held
	// ones; they follow once it is retried, dismissed or superseded.
	if c.resume == StateError && c.last != nil {
		c.fireLogged(TriggerReconnected, transitionNote{})
		return
	}
	c.lastErr = nil

	next := c.popHeld()
	if next == nil {
		c.fireLogged(TriggerReconnected, transitionNote{})
		return
	}
	c.last = nil
	if err := c.start(next, TriggerReconnected); err != nil {
		c.log.Error("replay after reconnect failed to start", "error", err)
	}
}

// popHeld returns the oldest held turn that still needs a reply. Turns that
// were already answered are skipped, so a replay never duplicates a reply.
func (c *Conversation) popHeld() *turn {
	for len(c.held) > 0 {
		t := c.held[0]
		c.held = c.held[1:]
		if t.answered {
			continue
		}
		if _, ok := c.store.Get(t.msgID); !ok {
			continue
		}
		return t
	}
	return nil
}

func (c *Conversation) dispatchHeld() {
	if c.inFlight != nil || c.state() != StateIdle {
		return
	}
	next := c.popHeld()
	if next == nil {
		return
	}
	if err := c.start(next, TriggerSubmit); err != nil {
		c.log.Error("held turn failed to start", "error", err)
	}
}

func (c *Conversation) fire(trigger Trigger, note transitionNote) error {
	c.note = note
	defer func() { c.note = transitionNote{} }()
	if err := c.fsm.Fire(trigger); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return nil
}

func (c *Conversation) fireLogged(trigger Trigger, note transitionNote) {
	if err := c.fire(trigger, note); err != nil {
		c.log.Error("FSM fire error", "trigger", trigger, "error", err)
	}
}

func (c *Conversation) onTransition(t stateless.Transition) {
	from, _ := t.Source.(State)
	to, _ := t.Destination.(State)
	trigger, _ := t.Trigger.(Trigger)
	c.log.Debug("transition", "from", from, "to", to, "trigger", trigger)

	tr := Transition{
		From:     from,
		To:       to,
		Trigger:  trigger,
		Snapshot: c.buildSnapshot(to),
		Reply:    c.note.reply,
		Err:      c.note.err,
	}
	for _, o := range c.observers {
		o.Observe(tr)
	}
}

func (c *Conversation) buildSnapshot(s State) Snapshot {
	return Snapshot{
		State:          s,
		Messages:       c.store.Messages(),
		IsLoading:      c.inFlight != nil,
		IsTyping:       s == StateTypingPause,
		Error:          c.lastErr,
		IsConnected:    c.session.Connection == Connected,
		Connection:     c.session.Connection,
		SessionToken:   c.session.Token,
		RetryScheduled: c.retry != nil,
		Held:           len(c.held),
	}
}

func (c *Conversation) publish() {
	snap := c.buildSnapshot(c.state())
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
}
