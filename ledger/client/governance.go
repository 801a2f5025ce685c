package client

import (
	"github.com/groupledger/groupledger/ledger"
)

// CreateGroup creates a new group with the creator as owner.
func (c *Client) CreateGroup(name, ownerName string) (string, error) {
	return c.directory.CreateGroup(name, ownerName)
}

// GetGroup returns a deep copy of the group.
func (c *Client) GetGroup(groupID string) (ledger.Group, error) {
	return c.directory.GetGroup(groupID)
}

// ListGroups returns deep copies of all known groups.
func (c *Client) ListGroups() []ledger.Group {
	return c.directory.ListGroups()
}

// DeleteGroup removes the group and all its records, requests, and
// agreements. Only the owner may delete a group.
func (c *Client) DeleteGroup(groupID, actingUser string) error {
	if err := c.directory.DeleteGroup(groupID, actingUser); err != nil {
		return err
	}

	c.records.DeleteGroup(groupID)
	c.requests.DeleteGroup(groupID)
	c.collateral.DeleteGroup(groupID)

	return nil
}

// GetMemberRole returns the member's role within the group.
func (c *Client) GetMemberRole(groupID, name string) (ledger.Role, error) {
	return c.directory.MemberRole(groupID, name)
}

// AddMember adds a member directly, bypassing the invite flow. The owner
// role cannot be assigned this way.
func (c *Client) AddMember(groupID, name string, role ledger.Role) error {
	return c.directory.AddMember(groupID, name, role)
}

// RemoveMember removes a member by kick or voluntary leave, per the group's
// rank and permission rules.
func (c *Client) RemoveMember(groupID, actingUser, target string) error {
	return c.directory.RemoveMember(groupID, actingUser, target)
}

// SetRole changes a member's role, per the group's rank rules.
func (c *Client) SetRole(groupID, actingUser, target string, newRole ledger.Role) error {
	return c.directory.SetRole(groupID, actingUser, target, newRole)
}

// SetTierFlags adjusts a middle tier's permission flags.
func (c *Client) SetTierFlags(groupID, actingUser string, tier ledger.Role, flags ledger.TierFlags) error {
	return c.directory.SetTierFlags(groupID, actingUser, tier, flags)
}

// TransferOwnership hands the group to a new owner; the previous owner
// becomes co-owner.
func (c *Client) TransferOwnership(groupID, currentOwner, newOwner string) error {
	return c.directory.TransferOwnership(groupID, currentOwner, newOwner)
}

// GenerateInviteCode creates the group's single-use invite code.
func (c *Client) GenerateInviteCode(groupID, actingUser string) (string, error) {
	return c.directory.GenerateInviteCode(groupID, actingUser)
}

// ConsumeInviteCode joins the requester to the group holding the code and
// returns that group's id.
func (c *Client) ConsumeInviteCode(code, requesterName string) (string, error) {
	return c.directory.ConsumeInviteCode(code, requesterName)
}

// StartSync begins periodic reconciliation for the group.
func (c *Client) StartSync(groupID, localIdentity string) error {
	if c.sync == nil {
		return ErrNoSyncConfigured
	}

	return c.sync.StartSync(groupID, localIdentity)
}

// StopSync stops the reconcile loop. Safe to call when not running.
func (c *Client) StopSync() {
	if c.sync != nil {
		c.sync.StopSync()
	}
}

// SyncNow runs one reconcile tick synchronously.
func (c *Client) SyncNow() error {
	if c.sync == nil {
		return ErrNoSyncConfigured
	}

	return c.sync.SyncNow()
}

// SubscribeChanges registers a callback fired after a sync tick changed the
// local view, and returns its removal function.
func (c *Client) SubscribeChanges(fn func()) func() {
	if c.sync == nil {
		return func() {}
	}

	return c.sync.Subscribe(fn)
}
