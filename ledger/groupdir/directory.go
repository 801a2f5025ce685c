package groupdir

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/groupledger/groupledger/ledger"
)

const (
	defaultInviteTTL = 24 * time.Hour

	logMsgGroupCreated     = "group created"
	logMsgMemberRemoved    = "member removed"
	logMsgInviteGenerated  = "invite code generated"
	logMsgInviteConsumed   = "invite code consumed"
	logMsgOwnerTransferred = "ownership transferred"
	logAttrGroupID         = "group_id"
	logAttrGroupName       = "group_name"
	logAttrMemberName      = "member_name"
	logAttrNewOwner        = "new_owner"
)

var ErrEmptyGroupName = errors.New("group name must not be empty")
var ErrEmptyMemberName = errors.New("member name must not be empty")
var ErrInvalidInviteTTL = errors.New("invite ttl must be positive")

// Directory owns the group definitions of the account: membership, ranked
// roles, delegation flags, and single-use invite codes.
//
// All operations are safe to call from any goroutine. Accessors return deep
// copies; the in-memory maps are never handed out.
type Directory struct {
	mu        sync.RWMutex
	groups    map[string]ledger.Group
	inviteTTL time.Duration
	logger    ledger.Logger
}

// Option defines a functional option for configuring the Directory.
type Option func(*Directory) error

// WithLogger sets the logger for the Directory.
func WithLogger(logger ledger.Logger) Option {
	return func(d *Directory) error {
		d.logger = logger
		return nil
	}
}

// WithInviteTTL sets how long a generated invite code stays valid.
func WithInviteTTL(ttl time.Duration) Option {
	return func(d *Directory) error {
		if ttl <= 0 {
			return ErrInvalidInviteTTL
		}

		d.inviteTTL = ttl
		return nil
	}
}

// New creates an empty Directory with optional configuration.
func New(options ...Option) (*Directory, error) {
	d := &Directory{
		groups:    make(map[string]ledger.Group),
		inviteTTL: defaultInviteTTL,
	}

	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// CreateGroup creates a group whose creator becomes the owner and returns the
// new group id. Fails with ledger.ErrDuplicateName if a group with that name
// already exists for the account.
func (d *Directory) CreateGroup(name, ownerName string) (string, error) {
	if name == "" {
		return "", ErrEmptyGroupName
	}

	if ownerName == "" {
		return "", ErrEmptyMemberName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, g := range d.groups {
		if strings.EqualFold(g.Name, name) {
			return "", ledger.ErrDuplicateName
		}
	}

	group := ledger.BuildGroup(name, ownerName)
	d.groups[group.ID] = group

	if d.logger != nil {
		d.logger.Info(logMsgGroupCreated, logAttrGroupID, group.ID, logAttrGroupName, name)
	}

	return group.ID, nil
}

// GetGroup returns a deep copy of the group or ledger.ErrNotFound.
func (d *Directory) GetGroup(groupID string) (ledger.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.Group{}, ledger.ErrNotFound
	}

	return group.Clone(), nil
}

// ListGroups returns deep copies of all known groups.
func (d *Directory) ListGroups() []ledger.Group {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]ledger.Group, 0, len(d.groups))
	for _, g := range d.groups {
		result = append(result, g.Clone())
	}

	return result
}

// DeleteGroup removes a group entirely. Only the owner may delete the group.
func (d *Directory) DeleteGroup(groupID, actingUser string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}

	if group.OwnerName != actingUser {
		return ledger.ErrPermissionDenied
	}

	delete(d.groups, groupID)

	return nil
}

// MemberRole returns the role of the named member or ledger.ErrNotFound.
func (d *Directory) MemberRole(groupID, name string) (ledger.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group, ok := d.groups[groupID]
	if !ok {
		return "", ledger.ErrNotFound
	}

	member, ok := group.MemberNamed(name)
	if !ok {
		return "", ledger.ErrNotFound
	}

	return member.Role, nil
}

// AddMember adds a member with the given role. A previously removed member of
// the same name rejoins fresh. Fails with ledger.ErrDuplicateName if the
// member is already present.
func (d *Directory) AddMember(groupID, name string, role ledger.Role) error {
	if name == "" {
		return ErrEmptyMemberName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}

	if _, present := group.MemberNamed(name); present {
		return ledger.ErrDuplicateName
	}

	if role == ledger.RoleOwner {
		// A second owner can only appear through TransferOwnership.
		return ledger.ErrInvalidState
	}

	now := ledger.NowMilli()
	group.Members[name] = ledger.Member{
		Name:         name,
		Role:         role,
		JoinedAt:     now,
		LastModified: now,
	}
	group.LastModified = now
	d.groups[groupID] = group

	return nil
}

// CanKick reports whether the actor may kick the target: the actor's rank
// must be strictly greater and the actor's tier must hold the kick flag.
func (d *Directory) CanKick(groupID, actingUser, target string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.canKickLocked(groupID, actingUser, target)
}

func (d *Directory) canKickLocked(groupID, actingUser, target string) bool {
	group, ok := d.groups[groupID]
	if !ok {
		return false
	}

	actor, ok := group.MemberNamed(actingUser)
	if !ok {
		return false
	}

	victim, ok := group.MemberNamed(target)
	if !ok {
		return false
	}

	return actor.Role.Outranks(victim.Role) && group.TierCanKick(actor.Role)
}

// RemoveMember kicks the target from the group, or lets a member leave when
// actingUser and target are the same name. The roster entry becomes a
// tombstone so a stale remote copy cannot re-add the member.
//
// An owner cannot leave; ownership must be transferred first.
func (d *Directory) RemoveMember(groupID, actingUser, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}

	victim, ok := group.MemberNamed(target)
	if !ok {
		return ledger.ErrNotFound
	}

	if actingUser == target {
		if victim.Role == ledger.RoleOwner {
			return ledger.ErrInvalidState
		}
	} else if !d.canKickLocked(groupID, actingUser, target) {
		return ledger.ErrPermissionDenied
	}

	now := ledger.NowMilli()
	victim.Removed = true
	victim.LastModified = now
	group.Members[target] = victim
	group.LastModified = now
	d.groups[groupID] = group

	if d.logger != nil {
		d.logger.Info(logMsgMemberRemoved, logAttrGroupID, groupID, logAttrMemberName, target)
	}

	return nil
}

// CanChangeRole reports whether the actor may change the target's role.
func (d *Directory) CanChangeRole(groupID, actingUser, target string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group, ok := d.groups[groupID]
	if !ok {
		return false
	}

	actor, ok := group.MemberNamed(actingUser)
	if !ok {
		return false
	}

	victim, ok := group.MemberNamed(target)
	if !ok {
		return false
	}

	return actor.Role.Outranks(victim.Role)
}

// SetRole changes the target's role. The actor must strictly outrank both the
// target's current role and the new role; RoleOwner can only be assigned
// through TransferOwnership.
func (d *Directory) SetRole(groupID, actingUser, target string, newRole ledger.Role) error {
	if !newRole.IsValid() || newRole == ledger.RoleOwner {
		return ledger.ErrInvalidState
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}

	actor, ok := group.MemberNamed(actingUser)
	if !ok {
		return ledger.ErrNotFound
	}

	member, ok := group.MemberNamed(target)
	if !ok {
		return ledger.ErrNotFound
	}

	if !actor.Role.Outranks(member.Role) || !actor.Role.Outranks(newRole) {
		return ledger.ErrPermissionDenied
	}

	now := ledger.NowMilli()
	member.Role = newRole
	member.LastModified = now
	group.Members[target] = member
	group.LastModified = now
	d.groups[groupID] = group

	return nil
}

// SetTierFlags toggles the delegation flags of one of the co-owner/admin/mod
// tiers. Only owners and co-owners may toggle flags, and changes to the
// co-owner tier require the owner, so a co-owner cannot widen its own grant.
func (d *Directory) SetTierFlags(groupID, actingUser string, tier ledger.Role, flags ledger.TierFlags) error {
	switch tier {
	case ledger.RoleCoOwner, ledger.RoleAdmin, ledger.RoleMod:
	default:
		return ledger.ErrInvalidState
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}

	actor, ok := group.MemberNamed(actingUser)
	if !ok {
		return ledger.ErrNotFound
	}

	if actor.Role != ledger.RoleOwner && actor.Role != ledger.RoleCoOwner {
		return ledger.ErrPermissionDenied
	}

	if tier == ledger.RoleCoOwner && actor.Role != ledger.RoleOwner {
		return ledger.ErrPermissionDenied
	}

	group.Flags[tier] = flags
	group.LastModified = ledger.NowMilli()
	d.groups[groupID] = group

	return nil
}

// TransferOwnership atomically demotes the current owner to co-owner and
// promotes the target to owner. The new state is staged fully in memory under
// one lock, so readers never observe zero or two owners; the sync engine later
// publishes it to the backend in a single write.
func (d *Directory) TransferOwnership(groupID, currentOwner, newOwner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}

	oldMember, ok := group.MemberNamed(currentOwner)
	if !ok || oldMember.Role != ledger.RoleOwner {
		return ledger.ErrPermissionDenied
	}

	newMember, ok := group.MemberNamed(newOwner)
	if !ok {
		return ledger.ErrNotFound
	}

	if currentOwner == newOwner {
		return ledger.ErrInvalidState
	}

	now := ledger.NowMilli()
	oldMember.Role = ledger.RoleCoOwner
	oldMember.LastModified = now
	newMember.Role = ledger.RoleOwner
	newMember.LastModified = now
	group.Members[currentOwner] = oldMember
	group.Members[newOwner] = newMember
	group.OwnerName = newOwner
	group.LastModified = now
	d.groups[groupID] = group

	if d.logger != nil {
		d.logger.Info(logMsgOwnerTransferred, logAttrGroupID, groupID, logAttrNewOwner, newOwner)
	}

	return nil
}

// Snapshot returns a deep copy of the group for the sync engine's push path.
func (d *Directory) Snapshot(groupID string) (ledger.Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group, ok := d.groups[groupID]
	if !ok {
		return ledger.Group{}, false
	}

	return group.Clone(), true
}

// Replace folds a merged group state into the directory. This is the sync
// engine's write path; local mutators never call it.
//
// The fold is revision-aware: the scalar state is installed unless the local
// copy carries a newer revision, and the roster merges per member, keeping
// local members the snapshot does not know, so a governance change landing
// between Snapshot and Replace survives the tick. Removed members absent
// from the snapshot are dropped, the sync engine omits a member tombstone
// only once it expired.
func (d *Directory) Replace(group ledger.Group) {
	if group.ID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.groups[group.ID]
	if !ok {
		d.groups[group.ID] = group.Clone()
		return
	}

	merged := group.Clone()
	if existing.Revision() > group.Revision() {
		scalar := existing.Clone()
		scalar.Members = merged.Members
		merged = scalar
	}

	for name, member := range existing.Members {
		current, known := merged.Members[name]
		if !known {
			if !member.Removed {
				merged.Members[name] = member
			}
			continue
		}

		if member.Revision() > current.Revision() {
			merged.Members[name] = member
		}
	}

	d.groups[group.ID] = merged
}
