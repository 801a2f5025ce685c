package riskengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/groupledger/groupledger/ledger"
)

const (
	defaultCacheTTL = 30 * time.Second

	logMsgRiskFlagged = "borrower flagged during active loan"
	logAttrPlayer     = "player"
	logAttrLevel      = "level"
	logAttrGroupID    = "group_id"
	logAttrLoanID     = "loan_id"
)

// HistoryReader is the slice of the ledger store the engine reads.
type HistoryReader interface {
	ListHistory(groupID string) []ledger.LendingRecord
}

// RiskSession tracks one flagged borrower while their loan is in progress.
// Sessions are local-only bookkeeping: they are never synced and are rebuilt
// each client session.
type RiskSession struct {
	PlayerName     string
	RecordID       string
	StartTimestamp ledger.UnixMilli
	Level          Level
	Active         bool
}

type cachedAnalysis struct {
	level    Level
	reason   string
	computed time.Time
}

// Engine derives a borrower's risk level from the full lending history each
// time it is asked. There is no hidden mutable score: RecordReturn and
// RecordDefault only invalidate the small rolling cache that keeps repeated
// lookups (a UI redrawing every frame) from rescanning history.
type Engine struct {
	history  HistoryReader
	policy   Policy
	cacheTTL time.Duration
	logger   ledger.Logger

	mu       sync.Mutex
	cache    map[string]cachedAnalysis
	sessions map[string]RiskSession // keyed by record id
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithPolicy replaces the default weighting table.
func WithPolicy(policy Policy) Option {
	return func(e *Engine) error {
		if err := policy.Validate(); err != nil {
			return err
		}

		e.policy = policy
		return nil
	}
}

// WithLogger sets the logger for the Engine.
func WithLogger(logger ledger.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithCacheTTL sets how long an analysis result may be reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) error {
		e.cacheTTL = ttl
		return nil
	}
}

// New creates an Engine reading the given history with optional configuration.
func New(history HistoryReader, options ...Option) (*Engine, error) {
	e := &Engine{
		history:  history,
		policy:   DefaultPolicy(),
		cacheTTL: defaultCacheTTL,
		cache:    make(map[string]cachedAnalysis),
		sessions: make(map[string]RiskSession),
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

type historyTally struct {
	returns        int
	cleanReturns   int
	overdueReturns int
	defaults       int
	defaultedValue int64
}

func (e *Engine) tally(groupID, playerName string) historyTally {
	var t historyTally

	for _, record := range e.history.ListHistory(groupID) {
		if record.BorrowerName != playerName {
			continue
		}

		if record.Defaulted {
			t.defaults++
			t.defaultedValue += record.Value
			continue
		}

		t.returns++
		if record.WasReturnedLate() {
			t.overdueReturns++
		} else {
			t.cleanReturns++
		}
	}

	return t
}

func (e *Engine) score(t historyTally) (int, Level) {
	score := t.defaults*e.policy.DefaultWeight +
		int(t.defaultedValue/1000)*e.policy.DefaultValueWeight +
		t.overdueReturns*e.policy.OverdueWeight -
		t.cleanReturns*e.policy.ReturnCredit

	level := e.policy.levelFor(score, t.cleanReturns)

	// Defaulting even once is disqualifying regardless of the table.
	if t.defaults > 0 {
		level = level.AtLeast(LevelHigh)
	}

	return score, level
}

// Analyze returns the borrower's current risk level, recomputed from the full
// history for the group (subject to the short cache TTL).
func (e *Engine) Analyze(groupID, playerName string) Level {
	level, _ := e.analyze(groupID, playerName)
	return level
}

// Reason returns a human-readable explanation for the borrower's level.
func (e *Engine) Reason(groupID, playerName string) string {
	_, reason := e.analyze(groupID, playerName)
	return reason
}

func (e *Engine) analyze(groupID, playerName string) (Level, string) {
	cacheKey := groupID + "\x00" + playerName

	e.mu.Lock()
	if cached, ok := e.cache[cacheKey]; ok && time.Since(cached.computed) < e.cacheTTL {
		e.mu.Unlock()
		return cached.level, cached.reason
	}
	e.mu.Unlock()

	// History listing takes the store's own lock; don't hold ours across it.
	t := e.tally(groupID, playerName)
	_, level := e.score(t)
	reason := buildReason(t, level)

	e.mu.Lock()
	e.cache[cacheKey] = cachedAnalysis{level: level, reason: reason, computed: time.Now()}
	e.mu.Unlock()

	return level, reason
}

func buildReason(t historyTally, level Level) string {
	if t.defaults > 0 {
		return fmt.Sprintf("%s: %d default(s) totalling %d, %d overdue return(s), %d clean return(s)",
			level, t.defaults, t.defaultedValue, t.overdueReturns, t.cleanReturns)
	}

	if t.returns == 0 {
		return fmt.Sprintf("%s: no lending history", level)
	}

	return fmt.Sprintf("%s: %d clean return(s), %d overdue return(s)",
		level, t.cleanReturns, t.overdueReturns)
}

// RecordReturn notes a completed return and drops any stale cached analysis
// for the borrower so the next Analyze sees the new history.
func (e *Engine) RecordReturn(groupID, playerName string, _ bool) {
	e.invalidate(groupID, playerName)
}

// RecordDefault notes a defaulted loan and drops any stale cached analysis
// for the borrower.
func (e *Engine) RecordDefault(groupID, playerName string, _ int64) {
	e.invalidate(groupID, playerName)
}

func (e *Engine) invalidate(groupID, playerName string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.cache, groupID+"\x00"+playerName)
}

// OpenSession starts tracking a flagged borrower for the given loan record.
// Opening a session for a record that already has one is a no-op.
func (e *Engine) OpenSession(groupID, playerName, recordID string, level Level) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[recordID]; exists {
		return
	}

	e.sessions[recordID] = RiskSession{
		PlayerName:     playerName,
		RecordID:       recordID,
		StartTimestamp: ledger.NowMilli(),
		Level:          level,
		Active:         true,
	}

	if e.logger != nil {
		e.logger.Warn(logMsgRiskFlagged,
			logAttrPlayer, playerName,
			logAttrLevel, string(level),
			logAttrGroupID, groupID,
			logAttrLoanID, recordID)
	}
}

// CloseSessionsForRecord removes the session tied to the record, if any.
// Called when the associated loan completes.
func (e *Engine) CloseSessionsForRecord(recordID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sessions, recordID)
}

// ActiveSessions returns a copy of all open risk sessions.
func (e *Engine) ActiveSessions() []RiskSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]RiskSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		result = append(result, s)
	}

	return result
}
