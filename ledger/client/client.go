// Package client provides the collaborator-facing facade over the ledger
// components. All calls are synchronous and safe from any goroutine; the
// facade wires the stores, the risk engine, the collateral ledger, the
// request workflow, and (when a backend is configured) the sync engine into
// one coherent surface.
package client

import (
	"errors"

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/collateral"
	"github.com/groupledger/groupledger/ledger/groupdir"
	"github.com/groupledger/groupledger/ledger/kvbackend"
	"github.com/groupledger/groupledger/ledger/ledgerstore"
	"github.com/groupledger/groupledger/ledger/requestflow"
	"github.com/groupledger/groupledger/ledger/riskengine"
	"github.com/groupledger/groupledger/ledger/syncengine"
)

const (
	logMsgEntryAdded       = "lending entry added"
	logMsgEntryCompleted   = "lending entry completed"
	logMsgLoanStarted      = "loan started from accepted request"
	logMsgRiskFlagged      = "borrower flagged by risk check"
	logMsgHistoryPurged    = "old history entries purged"
	logAttrGroupID         = "group_id"
	logAttrRecordID        = "record_id"
	logAttrRequestID       = "request_id"
	logAttrBorrower        = "borrower"
	logAttrRiskLevel       = "risk_level"
	logAttrDefaulted       = "defaulted"
	logAttrPurgedCount     = "purged_count"
)

// ErrNoSyncConfigured is returned by sync operations when the Client was
// built without a backend.
var ErrNoSyncConfigured = errors.New("no backend configured for sync")

// Client is the facade collaborators interact with. Construct it with New;
// the zero value is not usable.
type Client struct {
	records    *ledgerstore.Store
	directory  *groupdir.Directory
	requests   *requestflow.Workflow
	risk       *riskengine.Engine
	collateral *collateral.Ledger
	sync       *syncengine.Engine
	logger     ledger.Logger
}

type config struct {
	logger      ledger.Logger
	metrics     ledger.MetricsCollector
	policy      *riskengine.Policy
	backend     kvbackend.Backend
	syncOptions []syncengine.Option
}

// Option defines a functional option for configuring the Client.
type Option func(*config) error

// WithLogger sets the logger used by the Client and every component it
// constructs.
func WithLogger(logger ledger.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector passed to the sync engine.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithRiskPolicy replaces the default risk weighting table.
func WithRiskPolicy(policy riskengine.Policy) Option {
	return func(c *config) error {
		if err := policy.Validate(); err != nil {
			return err
		}

		c.policy = &policy
		return nil
	}
}

// WithBackend wires a key-value backend and enables the sync operations.
// The extra options are passed through to the sync engine.
func WithBackend(backend kvbackend.Backend, syncOptions ...syncengine.Option) Option {
	return func(c *config) error {
		c.backend = backend
		c.syncOptions = syncOptions
		return nil
	}
}

// New creates a Client with freshly constructed components.
func New(options ...Option) (*Client, error) {
	var cfg config
	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	records, err := newRecords(cfg)
	if err != nil {
		return nil, err
	}

	directory, err := newDirectory(cfg)
	if err != nil {
		return nil, err
	}

	requests, err := newRequests(cfg)
	if err != nil {
		return nil, err
	}

	agreements, err := newCollateral(cfg)
	if err != nil {
		return nil, err
	}

	risk, err := newRisk(cfg, records)
	if err != nil {
		return nil, err
	}

	c := &Client{
		records:    records,
		directory:  directory,
		requests:   requests,
		risk:       risk,
		collateral: agreements,
		logger:     cfg.logger,
	}

	if cfg.backend != nil {
		syncOptions := cfg.syncOptions
		if cfg.logger != nil {
			syncOptions = append(syncOptions, syncengine.WithLogger(cfg.logger))
		}
		if cfg.metrics != nil {
			syncOptions = append(syncOptions, syncengine.WithMetrics(cfg.metrics))
		}

		engine, syncErr := syncengine.New(cfg.backend, records, agreements, directory, requests, syncOptions...)
		if syncErr != nil {
			return nil, syncErr
		}

		c.sync = engine
		engine.Subscribe(c.closeStaleRiskSessions)
	}

	return c, nil
}

// closeStaleRiskSessions runs after every sync tick that changed local state.
// A loan returned on another instance arrives through the merge without
// passing CompleteEntry, so its tracking session is closed here instead.
func (c *Client) closeStaleRiskSessions() {
	for _, session := range c.risk.ActiveSessions() {
		record, err := c.records.Get(session.RecordID)
		if err != nil || record.IsHistory() {
			c.risk.CloseSessionsForRecord(session.RecordID)
		}
	}
}

func newRecords(cfg config) (*ledgerstore.Store, error) {
	if cfg.logger != nil {
		return ledgerstore.New(ledgerstore.WithLogger(cfg.logger))
	}

	return ledgerstore.New()
}

func newDirectory(cfg config) (*groupdir.Directory, error) {
	if cfg.logger != nil {
		return groupdir.New(groupdir.WithLogger(cfg.logger))
	}

	return groupdir.New()
}

func newRequests(cfg config) (*requestflow.Workflow, error) {
	if cfg.logger != nil {
		return requestflow.New(requestflow.WithLogger(cfg.logger))
	}

	return requestflow.New()
}

func newCollateral(cfg config) (*collateral.Ledger, error) {
	if cfg.logger != nil {
		return collateral.New(collateral.WithLogger(cfg.logger))
	}

	return collateral.New()
}

func newRisk(cfg config, records *ledgerstore.Store) (*riskengine.Engine, error) {
	var options []riskengine.Option
	if cfg.logger != nil {
		options = append(options, riskengine.WithLogger(cfg.logger))
	}
	if cfg.policy != nil {
		options = append(options, riskengine.WithPolicy(*cfg.policy))
	}

	return riskengine.New(records, options...)
}

// memberOf reports whether name is an active member of the group.
func (c *Client) memberOf(groupID, name string) bool {
	_, err := c.directory.MemberRole(groupID, name)
	return err == nil
}

// findOffer locates the available record the offerer currently has open for
// the item.
func (c *Client) findOffer(groupID, itemID, offererName string) (ledger.LendingRecord, bool) {
	for _, record := range c.records.ListAvailable(groupID) {
		if record.ItemID == itemID && record.LenderName == offererName {
			return record, true
		}
	}

	return ledger.LendingRecord{}, false
}
