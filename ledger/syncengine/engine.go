package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/kvbackend"
)

const (
	defaultInterval     = 5 * time.Minute
	defaultTombstoneTTL = 24 * time.Hour
	defaultScope        = "groupledger"
	tickTimeout         = 30 * time.Second

	logMsgSyncStarted       = "sync loop started"
	logMsgSyncStopped       = "sync loop stopped"
	logMsgTickCompleted     = "sync tick completed"
	logMsgReadFailed        = "backend read failed, skipping section this tick"
	logMsgWriteFailed       = "backend write failed, will retry next tick"
	logMsgCorruptSection    = "backend blob is corrupt, treating as empty"
	logMsgEncodeFailed      = "failed to encode merged section"
	logAttrError            = "error"
	logAttrGroupID          = "group_id"
	logAttrSection          = "section"
	logAttrDurationMS       = "duration_ms"
	logAttrChanged          = "changed"
	logAttrAdopted          = "adopted"
	metricTickDuration      = "sync_tick_duration"
	metricSectionFailures   = "sync_section_failures"
	metricAdoptedEntries    = "sync_adopted_entries"
	metricLabelSection      = "section"
	metricLabelGroupID      = "group_id"
)

var (
	// ErrNilBackend is returned when no backend is supplied to New.
	ErrNilBackend = errors.New("backend must not be nil")

	// ErrNilStore is returned when one of the state stores is nil.
	ErrNilStore = errors.New("state stores must not be nil")

	// ErrNotRunning is returned by SyncNow when no sync loop is active.
	ErrNotRunning = errors.New("sync loop is not running")

	// ErrInvalidInterval is returned when a non-positive sync interval is configured.
	ErrInvalidInterval = errors.New("sync interval must be positive")
)

// RecordStore is the slice of the ledger store the engine reconciles.
type RecordStore interface {
	Snapshot(groupID string) map[string]ledger.LendingRecord
	Replace(groupID string, records map[string]ledger.LendingRecord)
}

// AgreementStore is the slice of the collateral ledger the engine reconciles.
type AgreementStore interface {
	Snapshot(groupID string) map[string]ledger.CollateralAgreement
	Replace(groupID string, agreements map[string]ledger.CollateralAgreement)
}

// DirectoryStore is the slice of the group directory the engine reconciles.
type DirectoryStore interface {
	Snapshot(groupID string) (ledger.Group, bool)
	Replace(group ledger.Group)
}

// RequestStore is the slice of the request workflow the engine reconciles.
type RequestStore interface {
	Snapshot(groupID string) map[string]ledger.BorrowRequest
	Replace(groupID string, requests map[string]ledger.BorrowRequest)
}

// Engine is the orchestrator reconciling local state with the key-value
// backend. On a fixed interval it pulls the backend's copy of the active
// group, merges it per record with last-writer-wins, pushes the merged result
// back, and notifies subscribers when the local view changed.
//
// Only the engine talks to the backend, and only one sync loop per process
// runs per group at a time.
type Engine struct {
	backend    kvbackend.Backend
	records    RecordStore
	agreements AgreementStore
	directory  DirectoryStore
	requests   RequestStore

	scope        string
	interval     time.Duration
	tombstoneTTL time.Duration
	retry        retryConfig
	logger       ledger.Logger
	metrics      ledger.MetricsCollector
	notify       *notifier

	// lifecycle serializes StartSync and StopSync end to end, so two
	// concurrent starts can never leave more than one loop running.
	lifecycle sync.Mutex

	mu       sync.Mutex
	groupID  string
	identity string
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithLogger sets the logger for the Engine.
func WithLogger(logger ledger.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metrics = collector
		return nil
	}
}

// WithInterval sets the tick cadence. The reference cadence is 5 minutes;
// the backend's propagation delay makes a much shorter cadence pointless.
func WithInterval(interval time.Duration) Option {
	return func(e *Engine) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}

		e.interval = interval
		return nil
	}
}

// WithScope sets the backend scope (the account-level namespace).
func WithScope(scope string) Option {
	return func(e *Engine) error {
		e.scope = scope
		return nil
	}
}

// WithTombstoneTTL sets how long deletion markers are kept before being
// purged from the synced snapshots.
func WithTombstoneTTL(ttl time.Duration) Option {
	return func(e *Engine) error {
		e.tombstoneTTL = ttl
		return nil
	}
}

// WithDispatcher routes subscriber notifications through the given
// dispatcher instead of a fresh goroutine, for hosts that require callbacks
// on a specific thread.
func WithDispatcher(dispatch Dispatcher) Option {
	return func(e *Engine) error {
		e.notify = newNotifier(dispatch)
		return nil
	}
}

// WithRetry tunes the in-tick backoff for transient backend failures.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Engine) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		if baseDelay < 0 {
			return ErrNegativeBaseDelay
		}

		e.retry.maxAttempts = maxAttempts
		e.retry.baseDelay = baseDelay
		return nil
	}
}

// New creates an Engine over the given backend and state stores with
// optional configuration.
func New(
	backend kvbackend.Backend,
	records RecordStore,
	agreements AgreementStore,
	directory DirectoryStore,
	requests RequestStore,
	options ...Option,
) (*Engine, error) {

	if backend == nil {
		return nil, ErrNilBackend
	}

	if records == nil || agreements == nil || directory == nil || requests == nil {
		return nil, ErrNilStore
	}

	e := &Engine{
		backend:      backend,
		records:      records,
		agreements:   agreements,
		directory:    directory,
		requests:     requests,
		scope:        defaultScope,
		interval:     defaultInterval,
		tombstoneTTL: defaultTombstoneTTL,
		retry:        defaultRetryConfig(),
		notify:       newNotifier(nil),
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Subscribe registers a change-notification callback and returns its removal
// function. Callbacks fire at most once per tick, from the dispatcher
// context; receivers marshal onto their own thread if they need to.
func (e *Engine) Subscribe(fn func()) func() {
	return e.notify.subscribe(fn)
}

// StartSync begins the periodic reconcile loop for the group, with an
// immediate first tick. A loop already running for another (or the same)
// group is stopped first.
func (e *Engine) StartSync(groupID, localIdentity string) error {
	if groupID == "" {
		return ledger.ErrEmptyGroupID
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.groupID = groupID
	e.identity = localIdentity
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.run(ctx, groupID, done)

	if e.logger != nil {
		e.logger.Info(logMsgSyncStarted, logAttrGroupID, groupID)
	}

	return nil
}

// StopSync cancels the loop's timer. It is idempotent and safe to call when
// not running. An in-flight tick is allowed to complete (it runs on its own
// deadline, not the loop's context), but no further tick is scheduled.
func (e *Engine) StopSync() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.stop()
}

func (e *Engine) stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.groupID = ""
	e.identity = ""
	e.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	if e.logger != nil {
		e.logger.Info(logMsgSyncStopped)
	}
}

// SyncNow runs one tick synchronously for the active group, outside the
// fixed cadence. Fails with ErrNotRunning when no loop is active.
func (e *Engine) SyncNow() error {
	e.mu.Lock()
	groupID := e.groupID
	e.mu.Unlock()

	if groupID == "" {
		return ErrNotRunning
	}

	e.tick(groupID)

	return nil
}

// run is the loop body on the background scheduler goroutine.
func (e *Engine) run(ctx context.Context, groupID string, done chan struct{}) {
	defer close(done)

	e.tick(groupID)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(groupID)
		}
	}
}

// tick reconciles all sections once. Each section is all-or-nothing: a
// failure leaves both the local state and the backend copy of that section
// untouched until the next tick. The change callback fires at most once per
// tick no matter how many records moved.
func (e *Engine) tick(groupID string) {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	start := time.Now()

	changed := e.syncLedgerSection(ctx, groupID)
	changed = e.syncDirectorySection(ctx, groupID) || changed
	changed = e.syncRequestSection(ctx, groupID) || changed

	duration := time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordDuration(metricTickDuration, duration, map[string]string{metricLabelGroupID: groupID})
	}

	if e.logger != nil {
		e.logger.Debug(logMsgTickCompleted,
			logAttrGroupID, groupID,
			logAttrChanged, changed,
			logAttrDurationMS, duration.Milliseconds())
	}

	if changed {
		e.notify.publish()
	}
}

// readSection pulls one section blob. Absence is normal and yields nil data.
func (e *Engine) readSection(ctx context.Context, groupID string, section ledger.Section) ([]byte, bool) {
	key, err := ledger.BuildKey(groupID, section)
	if err != nil {
		return nil, false
	}

	var data []byte
	err = retryBackendOp(ctx, e.retry, func(ctx context.Context) error {
		var getErr error
		data, getErr = e.backend.Get(ctx, e.scope, key.Render())
		return getErr
	})

	if errors.Is(err, kvbackend.ErrKeyAbsent) {
		return nil, true
	}

	if err != nil {
		e.sectionFailure(logMsgReadFailed, groupID, section, err)
		return nil, false
	}

	return data, true
}

// writeSection pushes one merged section blob as a single logical put.
func (e *Engine) writeSection(ctx context.Context, groupID string, section ledger.Section, data []byte) {
	key, err := ledger.BuildKey(groupID, section)
	if err != nil {
		return
	}

	err = retryBackendOp(ctx, e.retry, func(ctx context.Context) error {
		return e.backend.Set(ctx, e.scope, key.Render(), data)
	})

	if err != nil {
		e.sectionFailure(logMsgWriteFailed, groupID, section, err)
	}
}

func (e *Engine) sectionFailure(msg, groupID string, section ledger.Section, err error) {
	if e.logger != nil {
		e.logger.Warn(msg,
			logAttrGroupID, groupID,
			logAttrSection, string(section),
			logAttrError, err.Error())
	}

	if e.metrics != nil {
		e.metrics.IncrementCounter(metricSectionFailures, map[string]string{
			metricLabelSection: string(section),
			metricLabelGroupID: groupID,
		})
	}
}

func (e *Engine) recordAdopted(groupID string, section ledger.Section, outcome mergeOutcome) {
	if e.metrics != nil && outcome.adopted > 0 {
		e.metrics.RecordValue(metricAdoptedEntries, float64(outcome.adopted), map[string]string{
			metricLabelSection: string(section),
			metricLabelGroupID: groupID,
		})
	}

	if e.logger != nil && outcome.adopted > 0 {
		e.logger.Debug(logMsgTickCompleted,
			logAttrSection, string(section),
			logAttrAdopted, outcome.adopted)
	}
}

func (e *Engine) tombstoneCutoff() ledger.UnixMilli {
	return ledger.NowMilli() - e.tombstoneTTL.Milliseconds()
}

// syncLedgerSection reconciles the records and collateral agreements blob.
// Reports whether the local view changed.
func (e *Engine) syncLedgerSection(ctx context.Context, groupID string) bool {
	data, ok := e.readSection(ctx, groupID, ledger.SectionLedger)
	if !ok {
		return false
	}

	remote := ledger.LedgerSnapshot{
		Records:    make(map[string]ledger.LendingRecord),
		Agreements: make(map[string]ledger.CollateralAgreement),
	}

	if data != nil {
		decoded, decodeErr := ledger.LedgerSnapshotFromJSON(data)
		if decodeErr != nil {
			e.logCorrupt(groupID, ledger.SectionLedger, decodeErr)
		} else {
			remote = decoded
		}
	}

	mergedRecords, recordOutcome := mergeLWW(e.records.Snapshot(groupID), remote.Records)
	mergedAgreements, agreementOutcome := mergeLWW(e.agreements.Snapshot(groupID), remote.Agreements)

	var outcome mergeOutcome
	outcome.combine(recordOutcome)
	outcome.combine(agreementOutcome)

	if dropExpiredRecordTombstones(mergedRecords, e.tombstoneCutoff()) {
		outcome.localChanged = true
		outcome.remoteChanged = true
	}

	e.recordAdopted(groupID, ledger.SectionLedger, outcome)

	if outcome.localChanged {
		e.records.Replace(groupID, mergedRecords)
		e.agreements.Replace(groupID, mergedAgreements)
	}

	if outcome.remoteChanged {
		encoded, encodeErr := ledger.LedgerSnapshot{
			Records:    mergedRecords,
			Agreements: mergedAgreements,
		}.ToJSON()
		if encodeErr != nil {
			e.sectionFailure(logMsgEncodeFailed, groupID, ledger.SectionLedger, encodeErr)
			return outcome.localChanged
		}

		e.writeSection(ctx, groupID, ledger.SectionLedger, encoded)
	}

	return outcome.localChanged
}

// syncDirectorySection reconciles the group definition blob.
func (e *Engine) syncDirectorySection(ctx context.Context, groupID string) bool {
	data, ok := e.readSection(ctx, groupID, ledger.SectionDirectory)
	if !ok {
		return false
	}

	var remote ledger.Group
	if data != nil {
		decoded, decodeErr := ledger.DirectorySnapshotFromJSON(data)
		if decodeErr != nil {
			e.logCorrupt(groupID, ledger.SectionDirectory, decodeErr)
		} else {
			remote = decoded.Group
		}
	}

	local, haveLocal := e.directory.Snapshot(groupID)
	haveRemote := remote.ID != ""

	switch {
	case !haveLocal && !haveRemote:
		return false

	case haveLocal && !haveRemote:
		e.pushGroup(ctx, groupID, local)
		return false

	case !haveLocal:
		if dropExpiredMemberTombstones(remote.Members, e.tombstoneCutoff()) {
			e.pushGroup(ctx, groupID, remote)
		}
		e.directory.Replace(remote)
		return true
	}

	merged, outcome := mergeGroups(local, remote)

	if dropExpiredMemberTombstones(merged.Members, e.tombstoneCutoff()) {
		outcome.localChanged = true
		outcome.remoteChanged = true
	}

	e.recordAdopted(groupID, ledger.SectionDirectory, outcome)

	if outcome.localChanged {
		e.directory.Replace(merged)
	}

	if outcome.remoteChanged {
		e.pushGroup(ctx, groupID, merged)
	}

	return outcome.localChanged
}

func (e *Engine) pushGroup(ctx context.Context, groupID string, group ledger.Group) {
	encoded, err := ledger.DirectorySnapshot{Group: group}.ToJSON()
	if err != nil {
		e.sectionFailure(logMsgEncodeFailed, groupID, ledger.SectionDirectory, err)
		return
	}

	e.writeSection(ctx, groupID, ledger.SectionDirectory, encoded)
}

// syncRequestSection reconciles the borrow-request blob.
func (e *Engine) syncRequestSection(ctx context.Context, groupID string) bool {
	data, ok := e.readSection(ctx, groupID, ledger.SectionRequests)
	if !ok {
		return false
	}

	remote := ledger.RequestSnapshot{Requests: make(map[string]ledger.BorrowRequest)}
	if data != nil {
		decoded, decodeErr := ledger.RequestSnapshotFromJSON(data)
		if decodeErr != nil {
			e.logCorrupt(groupID, ledger.SectionRequests, decodeErr)
		} else {
			remote = decoded
		}
	}

	merged, outcome := mergeLWW(e.requests.Snapshot(groupID), remote.Requests)

	e.recordAdopted(groupID, ledger.SectionRequests, outcome)

	if outcome.localChanged {
		e.requests.Replace(groupID, merged)
	}

	if outcome.remoteChanged {
		encoded, encodeErr := ledger.RequestSnapshot{Requests: merged}.ToJSON()
		if encodeErr != nil {
			e.sectionFailure(logMsgEncodeFailed, groupID, ledger.SectionRequests, encodeErr)
			return outcome.localChanged
		}

		e.writeSection(ctx, groupID, ledger.SectionRequests, encoded)
	}

	return outcome.localChanged
}

func (e *Engine) logCorrupt(groupID string, section ledger.Section, err error) {
	if e.logger != nil {
		e.logger.Warn(logMsgCorruptSection,
			logAttrGroupID, groupID,
			logAttrSection, string(section),
			logAttrError, err.Error())
	}
}
