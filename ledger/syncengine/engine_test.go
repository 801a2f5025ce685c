package syncengine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/collateral"
	"github.com/groupledger/groupledger/ledger/groupdir"
	"github.com/groupledger/groupledger/ledger/kvbackend"
	"github.com/groupledger/groupledger/ledger/ledgerstore"
	"github.com/groupledger/groupledger/ledger/requestflow"
	"github.com/groupledger/groupledger/ledger/syncengine"
)

// instance bundles one simulated app instance: its own state stores and
// sync engine, sharing the backend with the other instances in a test.
type instance struct {
	records    *ledgerstore.Store
	agreements *collateral.Ledger
	directory  *groupdir.Directory
	requests   *requestflow.Workflow
	engine     *syncengine.Engine
}

func newInstance(t *testing.T, backend kvbackend.Backend, options ...syncengine.Option) *instance {
	t.Helper()

	records, err := ledgerstore.New()
	require.NoError(t, err)

	agreements, err := collateral.New()
	require.NoError(t, err)

	directory, err := groupdir.New()
	require.NoError(t, err)

	requests, err := requestflow.New()
	require.NoError(t, err)

	options = append([]syncengine.Option{
		syncengine.WithRetry(3, time.Millisecond),
		syncengine.WithDispatcher(func(fn func()) { fn() }),
	}, options...)

	engine, err := syncengine.New(backend, records, agreements, directory, requests, options...)
	require.NoError(t, err)

	t.Cleanup(engine.StopSync)

	return &instance{
		records:    records,
		agreements: agreements,
		directory:  directory,
		requests:   requests,
		engine:     engine,
	}
}

func newBackend(t *testing.T) *kvbackend.MemoryBackend {
	t.Helper()

	backend, err := kvbackend.NewMemoryBackend()
	require.NoError(t, err)

	return backend
}

func putRecord(t *testing.T, inst *instance, groupID, itemName string) ledger.LendingRecord {
	t.Helper()

	record := ledger.BuildLendingRecord(groupID, "alice", "item-"+itemName, itemName, 1, 100)
	require.NoError(t, inst.records.Put(record))

	return record
}

func Test_Engine_TwoInstancesConvergeOnRecords(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))
	require.NoError(t, instanceB.engine.StartSync("g1", "bob"))

	drill := putRecord(t, instanceA, "g1", "Drill")
	require.NoError(t, instanceA.engine.SyncNow())
	require.NoError(t, instanceB.engine.SyncNow())

	snapshotB := instanceB.records.Snapshot("g1")
	require.Contains(t, snapshotB, drill.ID)
	assert.Equal(t, "Drill", snapshotB[drill.ID].ItemName)

	// Convergence works both ways.
	ladder := putRecord(t, instanceB, "g1", "Ladder")
	require.NoError(t, instanceB.engine.SyncNow())
	require.NoError(t, instanceA.engine.SyncNow())

	snapshotA := instanceA.records.Snapshot("g1")
	assert.Len(t, snapshotA, 2)
	assert.Contains(t, snapshotA, ladder.ID)
}

func Test_Engine_DirectoryAndRequestsPropagate(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	groupID, err := instanceA.directory.CreateGroup("Tool Shed", "alice")
	require.NoError(t, err)

	request, err := instanceA.requests.Submit(groupID, "alice", "item-1", "Drill", 1, 0)
	require.NoError(t, err)

	require.NoError(t, instanceA.engine.StartSync(groupID, "alice"))
	require.NoError(t, instanceA.engine.SyncNow())

	require.NoError(t, instanceB.engine.StartSync(groupID, "bob"))
	require.NoError(t, instanceB.engine.SyncNow())

	group, err := instanceB.directory.GetGroup(groupID)
	require.NoError(t, err)
	assert.Equal(t, "Tool Shed", group.Name)
	assert.Equal(t, "alice", group.OwnerName)

	synced, err := instanceB.requests.Get(request.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestPending, synced.State)
}

func Test_Engine_DeletionPropagatesAndDoesNotResurrect(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))
	require.NoError(t, instanceB.engine.StartSync("g1", "bob"))

	drill := putRecord(t, instanceA, "g1", "Drill")
	require.NoError(t, instanceA.engine.SyncNow())
	require.NoError(t, instanceB.engine.SyncNow())
	require.Contains(t, instanceB.records.Snapshot("g1"), drill.ID)

	require.NoError(t, instanceA.records.Remove(drill.ID))
	require.NoError(t, instanceA.engine.SyncNow())
	require.NoError(t, instanceB.engine.SyncNow())

	_, err := instanceB.records.Get(drill.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Another round trip must not bring the record back.
	require.NoError(t, instanceB.engine.SyncNow())
	require.NoError(t, instanceA.engine.SyncNow())
	_, err = instanceA.records.Get(drill.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func Test_Engine_NotifiesAtMostOncePerTick(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	var notifications atomic.Int64
	unsubscribe := instanceB.engine.Subscribe(func() { notifications.Add(1) })
	defer unsubscribe()

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))

	// Two fresh records adopted in the same tick still fire one callback.
	putRecord(t, instanceA, "g1", "Drill")
	putRecord(t, instanceA, "g1", "Ladder")
	require.NoError(t, instanceA.engine.SyncNow())

	require.NoError(t, instanceB.engine.StartSync("g1", "bob"))
	require.Eventually(t, func() bool {
		return len(instanceB.records.Snapshot("g1")) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, instanceB.engine.SyncNow())

	assert.Equal(t, int64(1), notifications.Load(),
		"one adopting tick fires one callback, a no-change tick fires none")
}

func Test_Engine_StopSyncIsIdempotent(t *testing.T) {
	backend := newBackend(t)
	inst := newInstance(t, backend)

	require.NoError(t, inst.engine.StartSync("g1", "alice"))

	inst.engine.StopSync()
	inst.engine.StopSync()

	assert.ErrorIs(t, inst.engine.SyncNow(), syncengine.ErrNotRunning)
}

func Test_Engine_StartSyncReplacesPreviousLoop(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))
	putRecord(t, instanceA, "g1", "Drill")
	require.NoError(t, instanceA.engine.SyncNow())

	// Switching groups drops the old loop; subsequent ticks touch only g2.
	require.NoError(t, instanceA.engine.StartSync("g2", "alice"))
	putRecord(t, instanceA, "g2", "Ladder")
	require.NoError(t, instanceA.engine.SyncNow())

	require.NoError(t, instanceB.engine.StartSync("g2", "bob"))
	require.NoError(t, instanceB.engine.SyncNow())

	assert.Len(t, instanceB.records.Snapshot("g2"), 1)
	assert.Empty(t, instanceB.records.Snapshot("g1"))
}

// countingBackend counts reads so a test can tell whether any loop is
// still ticking.
type countingBackend struct {
	kvbackend.Backend
	gets atomic.Int64
}

func (b *countingBackend) Get(ctx context.Context, scope, key string) ([]byte, error) {
	b.gets.Add(1)
	return b.Backend.Get(ctx, scope, key)
}

func Test_Engine_ConcurrentStartSyncLeavesOneLoop(t *testing.T) {
	backend := &countingBackend{Backend: newBackend(t)}
	inst := newInstance(t, backend, syncengine.WithInterval(2*time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, inst.engine.StartSync("g1", "alice"))
		}()
	}
	wg.Wait()

	inst.engine.StopSync()

	idle := backend.gets.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, idle, backend.gets.Load(),
		"no loop may keep ticking after StopSync")
}

func Test_Engine_RetentionPurgeIsNotResurrectedBySync(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))

	record := putRecord(t, instanceA, "g1", "Drill")
	loan := record
	loan.BorrowerName = "bob"
	loan.LendTimestamp = ledger.NowMilli()
	require.NoError(t, instanceA.records.Put(loan))
	_, err := instanceA.records.Complete(record.ID, true)
	require.NoError(t, err)

	// The completed loan reaches the backend before retention runs.
	require.NoError(t, instanceA.engine.SyncNow())

	removed := instanceA.records.DeleteOlderThan("g1", ledger.NowMilli()+1000)
	require.Equal(t, 1, removed)

	require.NoError(t, instanceA.engine.SyncNow())

	_, err = instanceA.records.Get(record.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound,
		"a purged record must not come back from the backend copy")
	assert.Empty(t, instanceA.records.ListHistory("g1"))
}

func Test_Engine_StartSyncRejectsEmptyGroupID(t *testing.T) {
	inst := newInstance(t, newBackend(t))

	assert.ErrorIs(t, inst.engine.StartSync("", "alice"), ledger.ErrEmptyGroupID)
}

func Test_Engine_CorruptBlobIsTreatedAsEmpty(t *testing.T) {
	backend := newBackend(t)
	inst := newInstance(t, backend)

	key, err := ledger.BuildKey("g1", ledger.SectionLedger)
	require.NoError(t, err)
	require.NoError(t, backend.Set(context.Background(), "groupledger", key.Render(), []byte("{not json")))

	require.NoError(t, inst.engine.StartSync("g1", "alice"))
	drill := putRecord(t, inst, "g1", "Drill")
	require.NoError(t, inst.engine.SyncNow())

	// The push replaced the garbage with a decodable snapshot.
	data, err := backend.Get(context.Background(), "groupledger", key.Render())
	require.NoError(t, err)

	snapshot, err := ledger.LedgerSnapshotFromJSON(data)
	require.NoError(t, err)
	assert.Contains(t, snapshot.Records, drill.ID)
}

func Test_Engine_RetriesTransientBackendFailures(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))
	require.NoError(t, instanceB.engine.StartSync("g1", "bob"))

	drill := putRecord(t, instanceA, "g1", "Drill")

	backend.FailNext(1, errors.New("connection reset"))
	require.NoError(t, instanceA.engine.SyncNow())
	require.NoError(t, instanceB.engine.SyncNow())

	assert.Contains(t, instanceB.records.Snapshot("g1"), drill.ID)
}

func Test_Engine_PurgesExpiredTombstones(t *testing.T) {
	backend := newBackend(t)
	inst := newInstance(t, backend, syncengine.WithTombstoneTTL(time.Millisecond))

	require.NoError(t, inst.engine.StartSync("g1", "alice"))

	drill := putRecord(t, inst, "g1", "Drill")
	require.NoError(t, inst.records.Remove(drill.ID))
	require.NoError(t, inst.engine.SyncNow())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, inst.engine.SyncNow())

	assert.Empty(t, inst.records.Snapshot("g1"), "expired tombstone must leave the local store")

	key, err := ledger.BuildKey("g1", ledger.SectionLedger)
	require.NoError(t, err)

	data, err := backend.Get(context.Background(), "groupledger", key.Render())
	require.NoError(t, err)

	snapshot, err := ledger.LedgerSnapshotFromJSON(data)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Records, "expired tombstone must leave the backend copy")
}

func Test_Engine_ConcurrentEditNewerTimestampWins(t *testing.T) {
	backend := newBackend(t)
	instanceA := newInstance(t, backend)
	instanceB := newInstance(t, backend)

	require.NoError(t, instanceA.engine.StartSync("g1", "alice"))
	require.NoError(t, instanceB.engine.StartSync("g1", "bob"))

	drill := putRecord(t, instanceA, "g1", "Drill")
	require.NoError(t, instanceA.engine.SyncNow())
	require.NoError(t, instanceB.engine.SyncNow())

	// Both instances edit the same record offline; B edits later.
	editA := instanceA.records.Snapshot("g1")[drill.ID]
	editA.Notes = "needs new battery"
	editA.LastModified = ledger.NowMilli()
	instanceA.records.Replace("g1", map[string]ledger.LendingRecord{drill.ID: editA})

	editB := instanceB.records.Snapshot("g1")[drill.ID]
	editB.Notes = "chuck is loose"
	editB.LastModified = editA.LastModified + 10
	instanceB.records.Replace("g1", map[string]ledger.LendingRecord{drill.ID: editB})

	require.NoError(t, instanceA.engine.SyncNow())
	require.NoError(t, instanceB.engine.SyncNow())
	require.NoError(t, instanceA.engine.SyncNow())

	assert.Equal(t, "chuck is loose", instanceA.records.Snapshot("g1")[drill.ID].Notes)
	assert.Equal(t, "chuck is loose", instanceB.records.Snapshot("g1")[drill.ID].Notes)
}
