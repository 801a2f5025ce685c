// Package ledger provides the core domain types for a shared group lending
// ledger: lending records, groups with ranked member roles, borrow requests,
// and collateral agreements.
//
// Instances of the ledger run independently per participant with no shared
// server process. State converges across instances through a keyed storage
// backend polled by the sync engine; every synced entity therefore carries a
// LastModified revision used for last-writer-wins reconciliation.
//
// This package defines the entities, the error taxonomy shared by all
// components, the typed backend key schema, and the snapshot codec.
// The behavioral components live in the subpackages:
//   - ledgerstore: lending record storage with available/active/history partitions
//   - groupdir: group membership, roles, permissions and invites
//   - riskengine: borrower risk scoring over ledger history
//   - collateral: collateral agreement bookkeeping
//   - requestflow: the borrow-request negotiation state machine
//   - syncengine: periodic reconcile-with-backend loop
//   - kvbackend: backend implementations (memory, postgres, sqlite)
//   - client: the collaborator-facing facade wiring everything together
package ledger
