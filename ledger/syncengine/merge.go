package syncengine

import (
	"github.com/groupledger/groupledger/ledger"
)

// revisioned is implemented by every synced entity.
type revisioned interface {
	Revision() ledger.UnixMilli
}

// mergeOutcome reports which sides a merge diverged from. localChanged means
// the merged state differs from the local pre-merge state (subscribers should
// be notified); remoteChanged means it differs from the remote copy (the
// result must be pushed back).
type mergeOutcome struct {
	localChanged  bool
	remoteChanged bool
	adopted       int
	kept          int
}

func (o *mergeOutcome) combine(other mergeOutcome) {
	o.localChanged = o.localChanged || other.localChanged
	o.remoteChanged = o.remoteChanged || other.remoteChanged
	o.adopted += other.adopted
	o.kept += other.kept
}

// mergeLWW reconciles two keyed maps per entry: for each key present on
// either side, the copy with the greater revision wins wholesale. Wholesale
// replacement at record granularity avoids partial, inconsistent records; it
// also means two instances editing different fields of the same record
// concurrently lose one edit, a known limitation of the design.
//
// Entries present on one side only are kept (local, to be pushed) or adopted
// (remote). Equal revisions are treated as identical copies and keep the
// local one.
func mergeLWW[T revisioned](local, remote map[string]T) (map[string]T, mergeOutcome) {
	merged := make(map[string]T, len(local))
	var outcome mergeOutcome

	for key, localCopy := range local {
		remoteCopy, inRemote := remote[key]

		switch {
		case !inRemote:
			merged[key] = localCopy
			outcome.remoteChanged = true
			outcome.kept++

		case remoteCopy.Revision() > localCopy.Revision():
			merged[key] = remoteCopy
			outcome.localChanged = true
			outcome.adopted++

		default:
			merged[key] = localCopy
			if localCopy.Revision() > remoteCopy.Revision() {
				outcome.remoteChanged = true
			}
		}
	}

	for key, remoteCopy := range remote {
		if _, inLocal := local[key]; inLocal {
			continue
		}

		merged[key] = remoteCopy
		outcome.localChanged = true
		outcome.adopted++
	}

	return merged, outcome
}

// dropExpiredRecordTombstones purges record tombstones older than the TTL.
// A tombstone must outlive at least one extra merge cycle so every instance
// observes the deletion before the marker disappears.
func dropExpiredRecordTombstones(records map[string]ledger.LendingRecord, cutoff ledger.UnixMilli) bool {
	purged := false

	for id, record := range records {
		if record.Tombstone && record.LastModified < cutoff {
			delete(records, id)
			purged = true
		}
	}

	return purged
}

// dropExpiredMemberTombstones purges roster tombstones older than the TTL.
func dropExpiredMemberTombstones(members map[string]ledger.Member, cutoff ledger.UnixMilli) bool {
	purged := false

	for name, member := range members {
		if member.Removed && member.LastModified < cutoff {
			delete(members, name)
			purged = true
		}
	}

	return purged
}

// mergeGroups reconciles two copies of a group: the scalar state (name,
// owner, flags, invite, webhook) follows the copy with the greater revision
// wholesale, the member roster merges per member.
//
// The per-member roster merge can contradict the winning scalar state after
// divergent ownership transfers or a double-consumed invite code, so the
// roster is reconciled against the scalar result afterwards. Both sides
// compute the repair from the same merged inputs, so the result converges.
func mergeGroups(local, remote ledger.Group) (ledger.Group, mergeOutcome) {
	var outcome mergeOutcome

	merged := local.Clone()
	if remote.Revision() > local.Revision() {
		remoteScalar := remote.Clone()
		remoteScalar.Members = merged.Members
		merged = remoteScalar
		outcome.localChanged = true
	} else if local.Revision() > remote.Revision() {
		outcome.remoteChanged = true
	}

	members, memberOutcome := mergeLWW(local.Members, remote.Members)
	merged.Members = members
	outcome.combine(memberOutcome)

	if reconcileOwnerRole(&merged) {
		outcome.localChanged = true
		outcome.remoteChanged = true
	}

	if evictLosingInviteJoins(&merged) {
		outcome.localChanged = true
		outcome.remoteChanged = true
	}

	return merged, outcome
}

// reconcileOwnerRole realigns the merged roster with the winning OwnerName.
// A losing ownership transfer can leave its beneficiary holding the owner
// role in a member slot the winning write never touched; that member is
// demoted to co-owner and the named owner gets the owner role back. The
// group must never surface with two owners.
func reconcileOwnerRole(group *ledger.Group) bool {
	changed := false

	for name, member := range group.Members {
		switch {
		case name == group.OwnerName && !member.Removed && member.Role != ledger.RoleOwner:
			member.Role = ledger.RoleOwner

		case name != group.OwnerName && member.Role == ledger.RoleOwner:
			member.Role = ledger.RoleCoOwner

		default:
			continue
		}

		if group.LastModified > member.LastModified {
			member.LastModified = group.LastModified
		}
		group.Members[name] = member
		changed = true
	}

	return changed
}

// evictLosingInviteJoins tombstones members who joined through an invite code
// that the winning scalar state records as consumed by someone else. The code
// is single-use: only the consumer named by the merged invite stays.
func evictLosingInviteJoins(group *ledger.Group) bool {
	invite := group.Invite
	if invite == nil || invite.UsedBy == "" {
		return false
	}

	changed := false
	for name, member := range group.Members {
		if member.Removed || member.JoinedVia != invite.Code || name == invite.UsedBy {
			continue
		}

		member.Removed = true
		if group.LastModified > member.LastModified {
			member.LastModified = group.LastModified
		}
		group.Members[name] = member
		changed = true
	}

	return changed
}
