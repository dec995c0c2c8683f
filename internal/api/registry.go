package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/internal/observe"
	"github.com/vdrs/dykscribe/internal/submission"
)

const (
	// defaultSessionTTL is how long an idle session is kept before the
	// janitor drops it, recording and all.
	defaultSessionTTL = 30 * time.Minute

	// sweepEvery is the janitor's check interval.
	sweepEvery = time.Minute

	// eventBuffer is the per-subscriber transition channel capacity. A
	// subscriber that falls further behind loses events rather than blocking
	// the submission pipeline.
	eventBuffer = 16
)

// Session binds one technician's draft to an ID the HTTP client can hold on
// to. All draft access goes through the session's lock: handlers lock for the
// whole engine call, so a second request on the same session waits and is
// then answered by the engine's state guard.
type Session struct {
	// ID is the opaque session identifier issued at creation.
	ID string

	// CreatedAt is when the session was opened.
	CreatedAt time.Time

	// mu serializes all draft access for this session. It also guards
	// lastActive.
	mu         sync.Mutex
	draft      *submission.Draft
	lastActive time.Time

	// subsMu guards the subscriber set separately from mu: the engine's
	// transition hook publishes while the session lock is already held by the
	// request that triggered the transition.
	subsMu sync.Mutex
	closed bool
	subs   map[chan submission.Transition]struct{}
}

// touch marks the session as recently used. Callers hold mu.
func (s *Session) touch(now time.Time) {
	s.lastActive = now
}

// idleSince returns the last activity timestamp.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// publish fans a transition out to all subscribers. A full subscriber channel
// drops the event; the pipeline never waits for a slow websocket.
func (s *Session) publish(t submission.Transition) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// subscribe registers a new transition listener. It returns nil when the
// session has already been closed by the janitor.
func (s *Session) subscribe() chan submission.Transition {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return nil
	}
	ch := make(chan submission.Transition, eventBuffer)
	if s.subs == nil {
		s.subs = make(map[chan submission.Transition]struct{})
	}
	s.subs[ch] = struct{}{}
	return ch
}

// unsubscribe removes one listener and closes its channel.
func (s *Session) unsubscribe(ch chan submission.Transition) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[ch]; !ok {
		return
	}
	delete(s.subs, ch)
	close(ch)
}

// closeSubscribers ends all event streams and rejects future subscriptions.
func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// Registry is the concurrent-safe map of live sessions. It indexes sessions
// both by session ID (for request routing) and by the current draft's ID (for
// routing engine transitions to event subscribers), and evicts sessions that
// have been idle past their TTL.
type Registry struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	byDraft  map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a session registry and starts its expiry janitor.
// A non-positive ttl falls back to the 30 minute default. Call [Registry.Stop]
// on shutdown.
func NewRegistry(ttl time.Duration, metrics *observe.Metrics) *Registry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	r := &Registry{
		ttl:      ttl,
		now:      time.Now,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		byDraft:  make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Create opens a session around the given fresh draft and returns it.
func (r *Registry) Create(draft *submission.Draft) *Session {
	now := r.now()
	sess := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		draft:      draft,
		lastActive: now,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.byDraft[draft.ID()] = sess
	r.mu.Unlock()

	r.metrics.AddActiveSessions(context.Background(), 1)
	return sess
}

// Get returns the session for id, updating its activity timestamp.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	sess.mu.Lock()
	sess.touch(r.now())
	sess.mu.Unlock()
	return sess, true
}

// Remove drops the session and ends its event streams. Removing an unknown id
// is a no-op.
//
// The draft index is cleared by scanning rather than by reading sess.draft:
// that read would need the session lock, and [Registry.Adopt] already takes
// the registry lock while holding it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		for draftID, owner := range r.byDraft {
			if owner == sess {
				delete(r.byDraft, draftID)
			}
		}
	}
	r.mu.Unlock()

	if ok {
		sess.closeSubscribers()
		r.metrics.AddActiveSessions(context.Background(), -1)
	}
}

// Adopt swaps the session's draft for the fresh one returned by a successful
// persist and re-keys the transition routing. The caller must hold the
// session's lock. A session the janitor evicted mid-persist still gets the
// fresh draft but is no longer indexed.
func (r *Registry) Adopt(sess *Session, fresh *submission.Draft) {
	r.mu.Lock()
	if _, live := r.sessions[sess.ID]; live {
		delete(r.byDraft, sess.draft.ID())
		r.byDraft[fresh.ID()] = sess
	}
	r.mu.Unlock()

	sess.draft = fresh
}

// Dispatch routes an engine transition to the owning session's subscribers.
// It is installed as the engine's transition hook and must not block: a
// transition for an unknown draft (such as one already evicted) is dropped.
func (r *Registry) Dispatch(t submission.Transition) {
	r.mu.Lock()
	sess, ok := r.byDraft[t.DraftID]
	r.mu.Unlock()
	if !ok {
		return
	}
	sess.publish(t)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stop ends the janitor. Live sessions stay usable; Stop only halts eviction.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

// janitor periodically drops sessions idle past the TTL.
func (r *Registry) janitor() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts every session whose last activity is older than the TTL.
func (r *Registry) sweep() {
	r.mu.Lock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		candidates = append(candidates, sess)
	}
	r.mu.Unlock()

	deadline := r.now().Add(-r.ttl)
	for _, sess := range candidates {
		if sess.idleSince().Before(deadline) {
			observe.Logger(context.Background()).Info("session expired",
				"session_id", sess.ID,
				"created_at", sess.CreatedAt)
			r.Remove(sess.ID)
		}
	}
}
