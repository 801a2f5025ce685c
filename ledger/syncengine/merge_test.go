package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/ledger"
)

func recordAt(id string, revision ledger.UnixMilli) ledger.LendingRecord {
	return ledger.LendingRecord{
		ID:           id,
		GroupID:      "g1",
		ItemID:       "item-" + id,
		ItemName:     "Item " + id,
		Quantity:     1,
		LenderName:   "alice",
		LastModified: revision,
	}
}

func tombstoneAt(id string, revision ledger.UnixMilli) ledger.LendingRecord {
	record := recordAt(id, revision)
	record.Tombstone = true

	return record
}

func Test_MergeLWW_RemoteNewerCopyWins(t *testing.T) {
	local := map[string]ledger.LendingRecord{"r1": recordAt("r1", 100)}
	remote := map[string]ledger.LendingRecord{"r1": recordAt("r1", 200)}
	remoteCopy := remote["r1"]
	remoteCopy.Notes = "remote edit"
	remote["r1"] = remoteCopy

	merged, outcome := mergeLWW(local, remote)

	assert.Equal(t, "remote edit", merged["r1"].Notes)
	assert.True(t, outcome.localChanged)
	assert.False(t, outcome.remoteChanged)
	assert.Equal(t, 1, outcome.adopted)
}

func Test_MergeLWW_LocalNewerCopyWins(t *testing.T) {
	localCopy := recordAt("r1", 300)
	localCopy.Notes = "local edit"
	local := map[string]ledger.LendingRecord{"r1": localCopy}
	remote := map[string]ledger.LendingRecord{"r1": recordAt("r1", 200)}

	merged, outcome := mergeLWW(local, remote)

	assert.Equal(t, "local edit", merged["r1"].Notes)
	assert.False(t, outcome.localChanged)
	assert.True(t, outcome.remoteChanged)
}

func Test_MergeLWW_EqualRevisionsKeepLocalAndReportNoChange(t *testing.T) {
	local := map[string]ledger.LendingRecord{"r1": recordAt("r1", 100)}
	remote := map[string]ledger.LendingRecord{"r1": recordAt("r1", 100)}

	_, outcome := mergeLWW(local, remote)

	assert.False(t, outcome.localChanged)
	assert.False(t, outcome.remoteChanged)
}

func Test_MergeLWW_OneSidedEntriesSurviveOnBothSides(t *testing.T) {
	local := map[string]ledger.LendingRecord{"onlyLocal": recordAt("onlyLocal", 100)}
	remote := map[string]ledger.LendingRecord{"onlyRemote": recordAt("onlyRemote", 150)}

	merged, outcome := mergeLWW(local, remote)

	require.Len(t, merged, 2)
	assert.Contains(t, merged, "onlyLocal")
	assert.Contains(t, merged, "onlyRemote")
	assert.True(t, outcome.localChanged)
	assert.True(t, outcome.remoteChanged)
}

func Test_MergeLWW_IsIdempotent(t *testing.T) {
	local := map[string]ledger.LendingRecord{
		"r1": recordAt("r1", 100),
		"r2": recordAt("r2", 400),
	}
	remote := map[string]ledger.LendingRecord{
		"r1": recordAt("r1", 200),
		"r3": recordAt("r3", 300),
	}

	first, _ := mergeLWW(local, remote)
	second, outcome := mergeLWW(first, remote)

	assert.Equal(t, first, second)
	assert.False(t, outcome.localChanged, "re-applying the same remote must be a no-op")
}

func Test_MergeLWW_IsCommutativeForDistinctRevisions(t *testing.T) {
	sideA := map[string]ledger.LendingRecord{
		"r1": recordAt("r1", 100),
		"r2": recordAt("r2", 500),
	}
	sideB := map[string]ledger.LendingRecord{
		"r1": recordAt("r1", 200),
		"r3": recordAt("r3", 300),
	}

	aThenB, _ := mergeLWW(sideA, sideB)
	bThenA, _ := mergeLWW(sideB, sideA)

	assert.Equal(t, aThenB, bThenA)
}

func Test_MergeLWW_TombstoneDefeatsOlderRecord(t *testing.T) {
	local := map[string]ledger.LendingRecord{"r1": recordAt("r1", 100)}
	remote := map[string]ledger.LendingRecord{"r1": tombstoneAt("r1", 200)}

	merged, outcome := mergeLWW(local, remote)

	assert.True(t, merged["r1"].Tombstone, "a fresher deletion must win over the stale record")
	assert.True(t, outcome.localChanged)
}

func Test_MergeLWW_StaleCopyCannotResurrectTombstone(t *testing.T) {
	local := map[string]ledger.LendingRecord{"r1": tombstoneAt("r1", 300)}
	remote := map[string]ledger.LendingRecord{"r1": recordAt("r1", 100)}

	merged, _ := mergeLWW(local, remote)

	assert.True(t, merged["r1"].Tombstone)
}

func Test_DropExpiredRecordTombstones(t *testing.T) {
	records := map[string]ledger.LendingRecord{
		"old":   tombstoneAt("old", 100),
		"fresh": tombstoneAt("fresh", 900),
		"live":  recordAt("live", 50),
	}

	purged := dropExpiredRecordTombstones(records, 500)

	assert.True(t, purged)
	assert.NotContains(t, records, "old")
	assert.Contains(t, records, "fresh")
	assert.Contains(t, records, "live", "live records are never purged, however old")
}

func Test_DropExpiredRecordTombstones_NothingToPurge(t *testing.T) {
	records := map[string]ledger.LendingRecord{"live": recordAt("live", 50)}

	assert.False(t, dropExpiredRecordTombstones(records, 500))
}

func memberAt(name string, role ledger.Role, revision ledger.UnixMilli) ledger.Member {
	return ledger.Member{Name: name, Role: role, JoinedAt: 1, LastModified: revision}
}

func Test_MergeGroups_NewerScalarStateWinsWholesale(t *testing.T) {
	local := ledger.BuildGroup("Tool Shed", "alice")
	local.LastModified = 100
	remote := local.Clone()
	remote.Name = "Tool Shed II"
	remote.WebhookURL = "https://example.test/hook"
	remote.LastModified = 200

	merged, outcome := mergeGroups(local, remote)

	assert.Equal(t, "Tool Shed II", merged.Name)
	assert.Equal(t, "https://example.test/hook", merged.WebhookURL)
	assert.True(t, outcome.localChanged)
}

func Test_MergeGroups_RosterMergesPerMember(t *testing.T) {
	local := ledger.BuildGroup("Tool Shed", "alice")
	local.LastModified = 100
	remote := local.Clone()

	// Each side admitted a different member; both must survive the merge.
	local.Members["bob"] = memberAt("bob", ledger.RoleMember, 150)
	remote.Members["carol"] = memberAt("carol", ledger.RoleMember, 160)

	merged, outcome := mergeGroups(local, remote)

	assert.Contains(t, merged.Members, "alice")
	assert.Contains(t, merged.Members, "bob")
	assert.Contains(t, merged.Members, "carol")
	assert.True(t, outcome.localChanged)
	assert.True(t, outcome.remoteChanged)
}

func Test_MergeGroups_OwnershipTransferNeverYieldsTwoOwners(t *testing.T) {
	stale := ledger.BuildGroup("Tool Shed", "alice")
	stale.Members["alice"] = memberAt("alice", ledger.RoleOwner, 50)
	stale.Members["bob"] = memberAt("bob", ledger.RoleCoOwner, 50)
	stale.LastModified = 100

	// The transferring instance staged the complete post-transfer state
	// under one revision.
	transferred := stale.Clone()
	transferred.OwnerName = "bob"
	transferred.Members["alice"] = memberAt("alice", ledger.RoleCoOwner, 500)
	transferred.Members["bob"] = memberAt("bob", ledger.RoleOwner, 500)
	transferred.LastModified = 500

	merged, _ := mergeGroups(stale, transferred)

	owners := 0
	for _, member := range merged.Members {
		if member.Role == ledger.RoleOwner {
			owners++
		}
	}

	require.Equal(t, 1, owners)
	assert.Equal(t, "bob", merged.OwnerName)
	assert.Equal(t, ledger.RoleOwner, merged.Members["bob"].Role)
}

func Test_MergeGroups_DivergentTransfersConvergeOnScalarOwner(t *testing.T) {
	base := ledger.BuildGroup("Tool Shed", "alice")
	base.Members["alice"] = memberAt("alice", ledger.RoleOwner, 50)
	base.Members["bob"] = memberAt("bob", ledger.RoleMember, 50)
	base.Members["carol"] = memberAt("carol", ledger.RoleMember, 50)
	base.LastModified = 100

	// Two instances transfer ownership to different members while apart.
	toBob := base.Clone()
	toBob.OwnerName = "bob"
	toBob.Members["alice"] = memberAt("alice", ledger.RoleCoOwner, 500)
	toBob.Members["bob"] = memberAt("bob", ledger.RoleOwner, 500)
	toBob.LastModified = 500

	toCarol := base.Clone()
	toCarol.OwnerName = "carol"
	toCarol.Members["alice"] = memberAt("alice", ledger.RoleCoOwner, 600)
	toCarol.Members["carol"] = memberAt("carol", ledger.RoleOwner, 600)
	toCarol.LastModified = 600

	merged, outcome := mergeGroups(toBob, toCarol)

	owners := 0
	for _, member := range merged.Members {
		if member.Role == ledger.RoleOwner {
			owners++
		}
	}

	require.Equal(t, 1, owners)
	assert.Equal(t, "carol", merged.OwnerName)
	assert.Equal(t, ledger.RoleOwner, merged.Members["carol"].Role)
	assert.Equal(t, ledger.RoleCoOwner, merged.Members["bob"].Role,
		"the losing transfer's beneficiary is demoted")
	assert.True(t, outcome.localChanged)
	assert.True(t, outcome.remoteChanged)

	// The mirrored merge must settle on the same roster.
	mirrored, _ := mergeGroups(toCarol, toBob)
	assert.Equal(t, merged.OwnerName, mirrored.OwnerName)
	assert.Equal(t, merged.Members, mirrored.Members)
}

func Test_MergeGroups_DoubleConsumedInviteEvictsLosingJoiner(t *testing.T) {
	base := ledger.BuildGroup("Tool Shed", "alice")
	base.Members["alice"] = memberAt("alice", ledger.RoleOwner, 50)
	base.Invite = &ledger.InviteCode{Code: "JOIN-1", CreatedAt: 50}
	base.LastModified = 100

	// Two instances consume the same single-use code for different joiners.
	joinedBob := base.Clone()
	joinedBob.Invite = &ledger.InviteCode{Code: "JOIN-1", CreatedAt: 50, UsedBy: "bob"}
	bob := memberAt("bob", ledger.RoleMember, 500)
	bob.JoinedVia = "JOIN-1"
	joinedBob.Members["bob"] = bob
	joinedBob.LastModified = 500

	joinedCarol := base.Clone()
	joinedCarol.Invite = &ledger.InviteCode{Code: "JOIN-1", CreatedAt: 50, UsedBy: "carol"}
	carol := memberAt("carol", ledger.RoleMember, 600)
	carol.JoinedVia = "JOIN-1"
	joinedCarol.Members["carol"] = carol
	joinedCarol.LastModified = 600

	merged, outcome := mergeGroups(joinedBob, joinedCarol)

	require.NotNil(t, merged.Invite)
	assert.Equal(t, "carol", merged.Invite.UsedBy)
	assert.False(t, merged.Members["carol"].Removed)
	assert.True(t, merged.Members["bob"].Removed,
		"the losing consumer is evicted from the roster")
	assert.True(t, outcome.localChanged)
	assert.True(t, outcome.remoteChanged)
}

func Test_MergeGroups_RemovedMemberStaysRemoved(t *testing.T) {
	local := ledger.BuildGroup("Tool Shed", "alice")
	local.LastModified = 100

	remote := local.Clone()
	removed := memberAt("bob", ledger.RoleMember, 400)
	removed.Removed = true
	remote.Members["bob"] = removed

	local.Members["bob"] = memberAt("bob", ledger.RoleMember, 200)

	merged, _ := mergeGroups(local, remote)

	assert.True(t, merged.Members["bob"].Removed)
}
