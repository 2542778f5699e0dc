package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

// Session is the in-memory progress of one learner. The tree in memory is
// authoritative: every change is applied here first and then handed to the
// Writer, whose failures never roll the session back.
type Session struct {
	learnerID string
	writer    *Writer

	mu   sync.Mutex
	tree *LearnerProgress
}

// NewSession wraps tree for learnerID. A nil writer keeps changes in memory.
func NewSession(learnerID string, tree *LearnerProgress, w *Writer) *Session {
	if tree == nil {
		tree = Initialize(nil, nil)
	}
	return &Session{learnerID: learnerID, tree: tree, writer: w}
}

func (s *Session) LearnerID() string { return s.learnerID }

// MarkLearned marks an item and persists the tree only if it changed.
func (s *Session) MarkLearned(levelID string, c curriculum.Category, item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.tree.MarkLearned(levelID, c, item)
	if changed {
		s.persist()
	}
	return changed
}

// UnmarkLearned unmarks an item and persists the tree only if it changed.
func (s *Session) UnmarkLearned(levelID string, c curriculum.Category, item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.tree.UnmarkLearned(levelID, c, item)
	if changed {
		s.persist()
	}
	return changed
}

func (s *Session) IsLearned(levelID string, c curriculum.Category, item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.IsLearned(levelID, c, item)
}

func (s *Session) Topic(levelID, topicID string) TopicProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Topic(levelID, topicID)
}

// UpdateTopic applies fn to the topic's current state and stores the result.
// It returns the stored state and whether it changed.
func (s *Session) UpdateTopic(levelID, topicID string, fn func(TopicProgress) TopicProgress) (TopicProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.tree.Topic(levelID, topicID))
	changed := s.tree.SetTopic(levelID, topicID, next)
	if changed {
		s.persist()
	}
	return s.tree.Topic(levelID, topicID), changed
}

// Snapshot returns a deep copy of the tree.
func (s *Session) Snapshot() *LearnerProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

// View runs fn with the live tree under the session lock. fn must not keep
// or modify the tree.
func (s *Session) View(fn func(*LearnerProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.tree)
}

func (s *Session) LevelPercentage(levelID string, totals curriculum.Totals) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LevelPercentage(s.tree, levelID, totals)
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TotalStats(s.tree)
}

// persist must be called with s.mu held so revisions follow mutation order.
func (s *Session) persist() {
	if s.writer != nil {
		s.writer.Enqueue(s.learnerID, s.tree)
	}
}

// SessionsConfig configures a Sessions registry.
type SessionsConfig struct {
	Repository  Repository
	Writer      *Writer
	LevelIDs    []string
	LoadTimeout time.Duration

	// IdleTTL is how long a session may go unused before EvictIdle drops it.
	// Zero means 30 minutes.
	IdleTTL time.Duration
}

// Sessions opens and caches one Session per learner. Concurrent opens of the
// same learner share a single repository load.
type Sessions struct {
	repo        Repository
	writer      *Writer
	levelIDs    []string
	loadTimeout time.Duration
	idleTTL     time.Duration
	group       singleflight.Group

	mu       sync.Mutex
	open     map[string]*Session
	lastUsed map[string]time.Time
}

const defaultIdleTTL = 30 * time.Minute

func NewSessions(cfg SessionsConfig) *Sessions {
	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = dbTimeout
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &Sessions{
		repo:        cfg.Repository,
		writer:      cfg.Writer,
		levelIDs:    append([]string(nil), cfg.LevelIDs...),
		loadTimeout: timeout,
		idleTTL:     ttl,
		open:        make(map[string]*Session),
		lastUsed:    make(map[string]time.Time),
	}
}

// Open returns the learner's session, loading it on first use. A learner
// with no stored tree starts from the empty skeleton. If ctx ends before
// the load finishes Open returns ctx.Err(); the load itself carries on for
// other callers.
func (s *Sessions) Open(ctx context.Context, learnerID string) (*Session, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("learner_id is required")
	}
	if sess, ok := s.cached(learnerID); ok {
		return sess, nil
	}

	ch := s.group.DoChan(learnerID, func() (any, error) {
		if sess, ok := s.cached(learnerID); ok {
			return sess, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.load(loadCtx, learnerID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

func (s *Sessions) load(ctx context.Context, learnerID string) (*Session, error) {
	var stored *LearnerProgress
	var revision int64

	rec, err := s.repo.Load(ctx, learnerID)
	switch {
	case errors.Is(err, ErrNotFound):
		slog.Debug("no stored progress, starting from skeleton", "learner_id", learnerID)
	case err != nil:
		return nil, fmt.Errorf("open session %s: %w", learnerID, err)
	default:
		stored, revision = rec.Tree, rec.Revision
	}

	if s.writer != nil {
		s.writer.Seed(learnerID, revision)
	}
	sess := NewSession(learnerID, Initialize(s.levelIDs, stored), s.writer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.open[learnerID]; ok {
		return existing, nil
	}
	s.open[learnerID] = sess
	s.lastUsed[learnerID] = time.Now()
	return sess, nil
}

func (s *Sessions) cached(learnerID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.open[learnerID]
	if ok {
		s.lastUsed[learnerID] = time.Now()
	}
	return sess, ok
}

// Len returns the number of sessions held in memory.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// EvictIdle drops sessions not opened for the idle TTL as of now, together
// with their write queues. A session whose newest tree is not stored yet
// stays, since memory is the only copy of it. It returns how many were
// dropped.
func (s *Sessions) EvictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, used := range s.lastUsed {
		if now.Sub(used) < s.idleTTL {
			continue
		}
		if s.writer != nil && !s.writer.release(id) {
			continue
		}
		delete(s.open, id)
		delete(s.lastUsed, id)
		evicted++
	}
	return evicted
}

// Evictor runs EvictIdle on a fixed interval.
type Evictor struct {
	sessions  *Sessions
	interval  time.Duration
	scheduler *gocron.Scheduler
}

func NewEvictor(sessions *Sessions, interval time.Duration) *Evictor {
	return &Evictor{
		sessions:  sessions,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules eviction and returns without blocking.
func (e *Evictor) Start() error {
	if _, err := e.scheduler.Every(e.interval).Do(e.run); err != nil {
		return fmt.Errorf("schedule session eviction: %w", err)
	}
	e.scheduler.StartAsync()
	return nil
}

func (e *Evictor) Stop() {
	e.scheduler.Stop()
}

func (e *Evictor) run() {
	if n := e.sessions.EvictIdle(time.Now()); n > 0 {
		slog.Debug("idle sessions evicted", "count", n, "open", e.sessions.Len())
	}
}
