package ledger

import (
	"github.com/google/uuid"
)

// TierFlags are the delegation flags a group can grant to one of the
// co-owner/admin/mod tiers. Owners always hold both capabilities and plain
// members never do, so flags exist only for the middle tiers.
type TierFlags struct {
	CanKick   bool `json:"canKick"`
	CanInvite bool `json:"canInvite"`
}

// InviteCode is a single-use code allowing one player to join the group.
// A consumed code keeps its UsedBy so the merge can tell the winning consumer
// apart from a concurrent one and evict the loser from the roster.
type InviteCode struct {
	Code      string    `json:"code"`
	CreatedAt UnixMilli `json:"createdAt"`
	ExpiresAt UnixMilli `json:"expiresAt"`
	UsedBy    string    `json:"usedBy,omitempty"`
}

// Member is one participant of a group. Members are keyed by name within
// their group and carry their own revision so roster changes merge per member.
// Removed marks a kick/leave tombstone. JoinedVia records the invite code the
// member joined through, so a merge can settle a double-consumed code.
type Member struct {
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	JoinedAt     UnixMilli `json:"joinedAt"`
	JoinedVia    string    `json:"joinedVia,omitempty"`
	Removed      bool      `json:"removed,omitempty"`
	LastModified UnixMilli `json:"lastModified"`
}

// Revision returns the last-writer-wins revision timestamp.
func (m Member) Revision() UnixMilli {
	return m.LastModified
}

// Group is a closed set of participants sharing one ledger and one role
// hierarchy. Exactly one member holds RoleOwner at all times.
//
// The scalar group state (name, owner, flags, invite, webhook) is reconciled
// wholesale by LastModified; the member roster is reconciled per member.
type Group struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	OwnerName    string             `json:"ownerName"`
	Members      map[string]Member  `json:"members"`
	Invite       *InviteCode        `json:"invite,omitempty"`
	Flags        map[Role]TierFlags `json:"flags"`
	WebhookURL   string             `json:"webhookUrl,omitempty"`
	CreatedAt    UnixMilli          `json:"createdAt"`
	LastModified UnixMilli          `json:"lastModified"`
}

// BuildGroup creates a new group whose creator becomes the owner.
func BuildGroup(name, ownerName string) Group {
	now := NowMilli()

	return Group{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerName: ownerName,
		Members: map[string]Member{
			ownerName: {
				Name:         ownerName,
				Role:         RoleOwner,
				JoinedAt:     now,
				LastModified: now,
			},
		},
		Flags: map[Role]TierFlags{
			RoleCoOwner: {CanKick: true, CanInvite: true},
			RoleAdmin:   {CanKick: false, CanInvite: true},
			RoleMod:     {CanKick: false, CanInvite: false},
		},
		CreatedAt:    now,
		LastModified: now,
	}
}

// Revision returns the last-writer-wins revision of the scalar group state.
func (g Group) Revision() UnixMilli {
	return g.LastModified
}

// MemberNamed returns the active (not removed) member with the given name.
func (g Group) MemberNamed(name string) (Member, bool) {
	m, ok := g.Members[name]
	if !ok || m.Removed {
		return Member{}, false
	}

	return m, true
}

// TierCanKick reports whether the given role's tier may kick, per the group flags.
// Owners always can; plain members never can.
func (g Group) TierCanKick(role Role) bool {
	if role == RoleOwner {
		return true
	}

	return g.Flags[role].CanKick
}

// TierCanInvite reports whether the given role's tier may generate invites.
func (g Group) TierCanInvite(role Role) bool {
	if role == RoleOwner {
		return true
	}

	return g.Flags[role].CanInvite
}

// Clone returns a deep copy of the group safe for concurrent readers.
func (g Group) Clone() Group {
	cp := g

	cp.Members = make(map[string]Member, len(g.Members))
	for name, m := range g.Members {
		cp.Members[name] = m
	}

	cp.Flags = make(map[Role]TierFlags, len(g.Flags))
	for role, f := range g.Flags {
		cp.Flags[role] = f
	}

	if g.Invite != nil {
		invite := *g.Invite
		cp.Invite = &invite
	}

	return cp
}
