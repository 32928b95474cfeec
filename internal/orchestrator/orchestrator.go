// Package orchestrator implements the Session Orchestrator (C6): per-session
// FIFO task queues, sticky runtime bindings, and the turn state machine
// that drives C4/C5 and publishes to C7. Grounded on the teacher's
// per-conversation serialization idiom (pkg/simpleruntime/pending_queue.go,
// a single active item per conversation) generalized from typing-indicator
// queuing to full turn execution, and on pkg/simpleruntime/cron's heartbeat
// scheduling idiom repurposed for idle sticky-binding eviction.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
	"github.com/beeper/persona-session-orchestrator/internal/eventbus"
	"github.com/beeper/persona-session-orchestrator/internal/retrieval"
	"github.com/beeper/persona-session-orchestrator/internal/runtime"
	"github.com/beeper/persona-session-orchestrator/internal/scheduler"
	"github.com/beeper/persona-session-orchestrator/internal/store"
)

// Config holds the orchestrator's tunables, mirrored 1:1 from the process
// config (internal/config.Config) so this package has no import-time
// dependency on it.
type Config struct {
	LLMCallTimeout      time.Duration
	SessionIdleEviction time.Duration
	MaxHistory          int
	EventBusBuffer      int
}

// Orchestrator wires C1/C2/C3/C4/C5 together behind the per-session task
// queue and event bus described in spec.md §4.6.
type Orchestrator struct {
	personas      *store.PersonaStore
	conversations *store.ConversationStore
	engine        *retrieval.Engine
	buses         *eventbus.Registry
	bindings      *bindings
	states        *schedulerStates
	cfg           Config
	log           zerolog.Logger
	rng           scheduler.RandSource

	mu       sync.Mutex
	sessions map[string]*sessionWorker
	cron     *cronlib.Cron
}

// New builds an Orchestrator and starts its idle-eviction cron schedule.
func New(personas *store.PersonaStore, conversations *store.ConversationStore, engine *retrieval.Engine, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.EventBusBuffer <= 0 {
		cfg.EventBusBuffer = 64
	}
	o := &Orchestrator{
		personas:      personas,
		conversations: conversations,
		engine:        engine,
		buses:         eventbus.NewRegistry(cfg.EventBusBuffer, log),
		bindings:      newBindings(cfg.SessionIdleEviction),
		states:        newSchedulerStates(),
		cfg:           cfg,
		log:           log,
		rng:           systemRand{},
		sessions:      make(map[string]*sessionWorker),
	}

	c := cronlib.New()
	if _, err := c.AddFunc("@every 30s", o.evictIdleBindings); err != nil {
		log.Error().Err(err).Msg("failed to schedule idle-binding eviction")
	} else {
		o.cron = c
		o.cron.Start()
	}
	return o
}

// Stop halts the idle-eviction schedule. It does not cancel in-flight turns.
func (o *Orchestrator) Stop() {
	if o.cron != nil {
		o.cron.Stop()
	}
}

func (o *Orchestrator) evictIdleBindings() {
	if n := o.bindings.evictIdle(); n > 0 {
		o.log.Debug().Int("count", n).Msg("evicted idle sticky runtime bindings")
	}
}

// Bus returns the event bus for sessionID, for subscribers (C8's websocket
// handler).
func (o *Orchestrator) Bus(sessionID string) *eventbus.Bus {
	return o.buses.Bus(sessionID)
}

func (o *Orchestrator) worker(sessionID, owner string) *sessionWorker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.sessions[sessionID]; ok {
		return w
	}
	w := newSessionWorker(o, sessionID, owner)
	o.sessions[sessionID] = w
	go w.run()
	return w
}

// Enqueue appends the user's message to the conversation store immediately
// (so concurrent history reads observe it) and places a turn task on the
// session's FIFO queue. It returns as soon as the message is durably
// recorded; it does not wait for generation.
func (o *Orchestrator) Enqueue(ctx context.Context, owner, sessionID, content string, targetPersonas []string) (*domain.Message, error) {
	sess, err := o.conversations.GetSession(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}

	msg, err := o.conversations.AppendMessage(ctx, owner, &domain.Message{
		ID:        domain.MustNewID(),
		SessionID: sessionID,
		Sender:    sess.EffectiveUserHandle(),
		Content:   content,
	})
	if err != nil {
		return nil, err
	}

	o.buses.Bus(sessionID).Publish(eventbus.Event{
		Kind: eventbus.KindMessageNew, SessionID: sessionID,
		Sender: msg.Sender, Content: msg.Content,
	})

	w := o.worker(sessionID, owner)
	w.submit(&task{userMessage: msg, targetPersonas: targetPersonas})
	return msg, nil
}

// CancelSession stops any in-flight task for sessionID without persisting
// its partial reply, and drops the session's queue and sticky binding. Used
// by DELETE /sessions/{id}.
func (o *Orchestrator) CancelSession(sessionID string) {
	o.mu.Lock()
	w, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if ok {
		w.shutdown()
	}
	o.bindings.drop(sessionID)
	o.buses.Drop(sessionID)
	o.states.drop(sessionID)
}

type task struct {
	userMessage    *domain.Message
	targetPersonas []string
}

// sessionWorker processes exactly one task at a time for its session,
// preserving FIFO arrival order, grounded on the teacher's per-conversation
// pending-work serialization (pkg/simpleruntime/pending_queue.go).
type sessionWorker struct {
	o         *Orchestrator
	sessionID string
	owner     string
	tasks     chan *task
	done      chan struct{}

	mu         sync.Mutex
	cancelRun  context.CancelFunc
}

func newSessionWorker(o *Orchestrator, sessionID, owner string) *sessionWorker {
	return &sessionWorker{
		o:         o,
		sessionID: sessionID,
		owner:     owner,
		tasks:     make(chan *task, 256),
		done:      make(chan struct{}),
	}
}

func (w *sessionWorker) submit(t *task) {
	select {
	case w.tasks <- t:
	case <-w.done:
	}
}

func (w *sessionWorker) shutdown() {
	w.mu.Lock()
	if w.cancelRun != nil {
		w.cancelRun()
	}
	w.mu.Unlock()
	close(w.done)
}

func (w *sessionWorker) run() {
	for {
		select {
		case t := <-w.tasks:
			w.runTask(t)
		case <-w.done:
			return
		}
	}
}

func (w *sessionWorker) runTask(t *task) {
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancelRun = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancelRun = nil
		w.mu.Unlock()
		cancel()
	}()

	log := w.o.log.With().Str("session_id", w.sessionID).Logger()
	bus := w.o.buses.Bus(w.sessionID)
	bd := w.o.bindings.get(w.sessionID, w.owner)

	personas, err := bd.refresh(ctx, w.o.personas, log)
	if err != nil {
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentError, SessionID: w.sessionID, Reason: err.Error()})
		return
	}
	if len(personas) == 0 {
		return
	}
	bd.touch()

	candidates := make([]scheduler.Candidate, len(personas))
	byHandle := make(map[string]*domain.Persona, len(personas))
	for i, p := range personas {
		candidates[i] = scheduler.Candidate{
			Handle:           p.Handle,
			Proactivity:      p.Proactivity,
			MaxAgentsPerTurn: p.MaxAgentsPerTurn,
			IsDefault:        p.IsDefault,
		}
		byHandle[p.Handle] = p
	}

	state := w.o.schedulerState(w.sessionID)
	selected := w.selectPersonas(candidates, state, t)

	maxWindow := 0
	for _, p := range personas {
		if p.MemoryWindow > maxWindow {
			maxWindow = p.MemoryWindow
		}
	}
	if maxWindow <= 0 || maxWindow > w.o.cfg.MaxHistory {
		maxWindow = w.o.cfg.MaxHistory
	}
	history, err := w.o.conversations.ListMessages(ctx, w.owner, w.sessionID, maxWindow)
	if err != nil {
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentError, SessionID: w.sessionID, Reason: err.Error()})
		return
	}

	for _, cand := range selected {
		persona := byHandle[cand.Handle]
		if persona == nil {
			continue
		}
		w.runPersonaTurn(ctx, bd, bus, persona, history, t.userMessage)
	}
}

func (w *sessionWorker) runPersonaTurn(ctx context.Context, bd *binding, bus *eventbus.Bus, persona *domain.Persona, history []*domain.Message, trigger *domain.Message) {
	messageID := xid.New().String()
	bus.Publish(eventbus.Event{Kind: eventbus.KindAgentStart, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle})

	rt, embedCfg, ok := bd.runtimeFor(persona)
	if !ok {
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentError, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle, Reason: "no runtime bound for persona's API profile"})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, w.o.cfg.LLMCallTimeout)
	defer cancel()

	entries := make([]runtime.HistoryEntry, 0, len(history))
	for _, m := range history {
		entries = append(entries, runtime.HistoryEntry{Sender: m.Sender, Content: m.Content})
	}
	entries = trimToWindow(entries, persona.MemoryWindow)

	mode := runtime.ModeDirect
	var search runtime.Searcher
	if persona.BackgroundText != "" && w.o.engine != nil {
		mode = runtime.ModeRetrieval
		search = &engineSearcher{engine: w.o.engine, owner: w.owner, persona: persona, embedCfg: embedCfg}
	}

	var assembled string
	var runErr error
	for chunk := range rt.Run(callCtx, persona, entries, trigger.Content, mode, search) {
		switch chunk.Kind {
		case runtime.ChunkText:
			bus.Publish(eventbus.Event{Kind: eventbus.KindAgentChunk, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle, Content: chunk.Text})
		case runtime.ChunkFinal:
			assembled = chunk.Text
		case runtime.ChunkError:
			runErr = chunk.Err
		}
	}

	if ctx.Err() != nil {
		// Outer context was cancelled out from under us (session deleted):
		// the run was aborted deliberately, not an error worth surfacing.
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentEnd, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle})
		return
	}
	if callCtx.Err() != nil {
		// The outer context is still live, so this is a genuine per-call
		// timeout, not session cancellation. Spec §5/§7: timeout surfaces
		// as agent.error, same as an upstream error, and the turn moves on
		// to the next persona.
		timeoutErr := apierr.Timeout(fmt.Sprintf("persona %q exceeded the LLM call timeout", persona.Handle))
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentError, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle, Reason: timeoutErr.Error()})
		return
	}
	if runErr != nil {
		kind := apierr.KindOf(runErr)
		if kind == apierr.KindInternal {
			kind = apierr.KindUpstream
		}
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentError, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle, Reason: runErr.Error()})
		return
	}

	persisted, err := w.o.conversations.AppendMessage(ctx, w.owner, &domain.Message{
		ID:        domain.MustNewID(),
		SessionID: w.sessionID,
		Sender:    persona.Handle,
		Content:   assembled,
	})
	if err != nil {
		bus.Publish(eventbus.Event{Kind: eventbus.KindAgentError, SessionID: w.sessionID, MessageID: messageID, Sender: persona.Handle, Reason: fmt.Sprintf("persisting reply: %v", err)})
		return
	}

	bus.Publish(eventbus.Event{
		Kind: eventbus.KindAgentEnd, SessionID: w.sessionID, MessageID: messageID,
		Sender: persona.Handle, Content: assembled, PersistedMessageID: persisted.ID,
	})
}

func trimToWindow(entries []runtime.HistoryEntry, window int) []runtime.HistoryEntry {
	if window <= 0 || len(entries) <= window {
		return entries
	}
	return entries[len(entries)-window:]
}
