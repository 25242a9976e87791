package conversation

import (
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
)

// State is where a user is in a multi-turn exchange.
type State string

const (
	StateIdle                          State = "idle"
	StateAwaitingClientConfirmation    State = "awaiting_client_confirmation"
	StateAwaitingCategory              State = "awaiting_category"
	StateAwaitingAmplificationText     State = "awaiting_amplification_text"
	StateAwaitingTaskSelectionForImage State = "awaiting_task_selection_for_image"
)

// PendingTask is a task being assembled across turns.
type PendingTask struct {
	Title         string
	Description   string
	Priority      store.Priority
	Date          *time.Time
	Mention       string
	ClientID      *int64
	ClientNameRaw string
	Candidates    []resolver.Candidate
}

// Session is the transient state of one user.
type Session struct {
	State State

	// Task is set while creating a task.
	Task *PendingTask
	// TaskID is the task an addendum is written to.
	TaskID int64
	// PhotoRef is the transport file of a photo waiting for its task.
	PhotoRef string

	UpdatedAt time.Time
}

// SessionStore keeps sessions keyed by user ID. Implementations must be
// safe for concurrent use.
type SessionStore interface {
	Get(userID int64) (Session, bool)
	Put(userID int64, s Session)
	Delete(userID int64)
}

// SessionConfig controls session eviction.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// DefaultSessionConfig returns the production settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:           30 * time.Minute,
		SweepSchedule: "@every 5m",
	}
}

// Validate checks the TTL and the sweep schedule.
func (c SessionConfig) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive, got %s", c.TTL)
	}
	if c.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("sessions.sweep_schedule %q: %w", c.SweepSchedule, err)
		}
	}
	return nil
}

const shardCount = 16

type shard struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

// MemorySessions is an in-memory SessionStore split into shards so
// different users rarely share a lock. Sessions idle longer than the TTL
// are treated as absent and removed by Sweep.
type MemorySessions struct {
	shards [shardCount]shard
	seed   maphash.Seed
	ttl    time.Duration
	now    func() time.Time

	cfg     SessionConfig
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	log     *slog.Logger

	hooksMu sync.Mutex
	hooks   []func()
}

// NewMemorySessions creates an empty store. Call Start to schedule sweeps.
func NewMemorySessions(cfg SessionConfig) *MemorySessions {
	m := &MemorySessions{
		seed: maphash.MakeSeed(),
		ttl:  cfg.TTL,
		now:  time.Now,
		cfg:  cfg,
		log:  logging.WithComponent("sessions"),
	}
	for i := range m.shards {
		m.shards[i].sessions = make(map[int64]Session)
	}
	return m
}

func (m *MemorySessions) shard(userID int64) *shard {
	h := maphash.Comparable(m.seed, userID)
	return &m.shards[h%shardCount]
}

// Get returns the live session of userID.
func (m *MemorySessions) Get(userID int64) (Session, bool) {
	sh := m.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[userID]
	if !ok {
		return Session{}, false
	}
	if m.expired(s) {
		delete(sh.sessions, userID)
		return Session{}, false
	}
	return s, true
}

// Put stores s for userID, stamping UpdatedAt. An idle session is deleted.
func (m *MemorySessions) Put(userID int64, s Session) {
	if s.State == StateIdle || s.State == "" {
		m.Delete(userID)
		return
	}
	s.UpdatedAt = m.now()

	sh := m.shard(userID)
	sh.mu.Lock()
	sh.sessions[userID] = s
	sh.mu.Unlock()
}

// Delete drops the session of userID.
func (m *MemorySessions) Delete(userID int64) {
	sh := m.shard(userID)
	sh.mu.Lock()
	delete(sh.sessions, userID)
	sh.mu.Unlock()
}

// Len returns the number of stored sessions, expired or not.
func (m *MemorySessions) Len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

func (m *MemorySessions) expired(s Session) bool {
	return m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl
}

// Sweep removes expired sessions and returns how many it removed.
func (m *MemorySessions) Sweep() int {
	removed := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if m.expired(s) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// OnSweep runs fn after every scheduled sweep. Call it before Start.
func (m *MemorySessions) OnSweep(fn func()) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, fn)
	m.hooksMu.Unlock()
}

// sweepTick is the scheduled job: Sweep, then the OnSweep functions.
func (m *MemorySessions) sweepTick() {
	if n := m.Sweep(); n > 0 {
		m.log.Debug("expired sessions removed", slog.Int("count", n))
	}
	m.hooksMu.Lock()
	hooks := m.hooks
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Start schedules Sweep on cfg.SweepSchedule.
func (m *MemorySessions) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.cfg.SweepSchedule == "" {
		return nil
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg.SweepSchedule, m.sweepTick); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	m.cron.Start()
	m.running = true

	m.log.Info("session sweeper started",
		slog.String("schedule", m.cfg.SweepSchedule),
		slog.Duration("ttl", m.ttl))
	return nil
}

// Stop halts the sweeper and waits for a running sweep.
func (m *MemorySessions) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
}
