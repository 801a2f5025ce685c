package groupdir

import (
	"strings"

	"github.com/google/uuid"

	"github.com/groupledger/groupledger/ledger"
)

const inviteCodeLength = 8

// CanGenerateInvite reports whether the actor's tier may generate invite codes.
func (d *Directory) CanGenerateInvite(groupID, actingUser string) bool {
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

	return group.TierCanInvite(actor.Role)
}

// GenerateInviteCode creates a fresh single-use invite code for the group,
// replacing any previous one. The code expires after the configured TTL.
func (d *Directory) GenerateInviteCode(groupID, actingUser string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return "", ledger.ErrNotFound
	}

	actor, ok := group.MemberNamed(actingUser)
	if !ok {
		return "", ledger.ErrNotFound
	}

	if !group.TierCanInvite(actor.Role) {
		return "", ledger.ErrPermissionDenied
	}

	now := ledger.NowMilli()
	code := newInviteCode()
	group.Invite = &ledger.InviteCode{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now + d.inviteTTL.Milliseconds(),
	}
	group.LastModified = now
	d.groups[groupID] = group

	if d.logger != nil {
		d.logger.Info(logMsgInviteGenerated, logAttrGroupID, groupID)
	}

	return code, nil
}

// ConsumeInviteCode joins the requester to the group holding the code.
// The code is single-use: the first successful consumption stamps UsedBy, any
// later attempt fails with ledger.ErrCodeAlreadyUsed. When two instances race
// on the same code, the merge keeps the consumer named by the winning UsedBy
// and evicts the other joiner from the roster.
func (d *Directory) ConsumeInviteCode(code, requesterName string) (string, error) {
	if requesterName == "" {
		return "", ErrEmptyMemberName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, group := range d.groups {
		if group.Invite == nil || group.Invite.Code != code {
			continue
		}

		if group.Invite.UsedBy != "" {
			return "", ledger.ErrCodeAlreadyUsed
		}

		now := ledger.NowMilli()
		if group.Invite.ExpiresAt > 0 && now > group.Invite.ExpiresAt {
			return "", ledger.ErrCodeExpired
		}

		if _, present := group.MemberNamed(requesterName); present {
			return "", ledger.ErrDuplicateName
		}

		invite := *group.Invite
		invite.UsedBy = requesterName
		group.Invite = &invite
		group.Members[requesterName] = ledger.Member{
			Name:         requesterName,
			Role:         ledger.RoleMember,
			JoinedAt:     now,
			JoinedVia:    code,
			LastModified: now,
		}
		group.LastModified = now
		d.groups[id] = group

		if d.logger != nil {
			d.logger.Info(logMsgInviteConsumed, logAttrGroupID, id, logAttrMemberName, requesterName)
		}

		return id, nil
	}

	return "", ledger.ErrNotFound
}

func newInviteCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:inviteCodeLength])
}
