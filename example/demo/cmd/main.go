// Demo drives two ledger clients against a shared SQLite backend to show
// cross-instance convergence: one instance runs the full offer-and-loan
// negotiation, the other observes it purely through sync.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/client"
	"github.com/groupledger/groupledger/ledger/kvbackend/sqliteengine"
	"github.com/groupledger/groupledger/ledger/oteladapters"
	"github.com/groupledger/groupledger/ledger/syncengine"
)

func main() {
	dbPath := flag.String("db", "groupledger-demo.sqlite", "path to the shared sqlite database")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := oteladapters.NewSlogLoggerWithHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	aliceClient, closeAlice := newClient(*dbPath, logger)
	defer closeAlice()

	bobClient, closeBob := newClient(*dbPath, logger)
	defer closeBob()

	groupID, err := aliceClient.CreateGroup("Tool Shed", "Alice")
	if err != nil {
		log.Fatalf("create group: %v", err)
	}

	if err := aliceClient.AddMember(groupID, "Bob", ledger.RoleMember); err != nil {
		log.Fatalf("add member: %v", err)
	}

	offer, err := aliceClient.AddEntry(groupID, "Alice", "item-scim", "Rune scimitar", 1, 15000)
	if err != nil {
		log.Fatalf("add entry: %v", err)
	}

	if err := aliceClient.StartSync(groupID, "Alice"); err != nil {
		log.Fatalf("start sync: %v", err)
	}
	defer aliceClient.StopSync()

	if err := aliceClient.SyncNow(); err != nil {
		log.Fatalf("sync: %v", err)
	}

	// Bob's instance learns about the group and the offer through the
	// backend alone.
	if err := bobClient.StartSync(groupID, "Bob"); err != nil {
		log.Fatalf("start sync: %v", err)
	}
	defer bobClient.StopSync()

	if err := bobClient.SyncNow(); err != nil {
		log.Fatalf("sync: %v", err)
	}

	request, err := bobClient.SubmitBorrowRequest(groupID, "Bob", offer.ItemID, offer.ItemName, 1, 0)
	if err != nil {
		log.Fatalf("submit request: %v", err)
	}
	syncBoth(bobClient, aliceClient)

	if _, err := aliceClient.AcceptRequest(request.ID, "Alice", "bring it back sharp"); err != nil {
		log.Fatalf("accept request: %v", err)
	}

	due := ledger.NowMilli() + (24 * time.Hour).Milliseconds()
	record, err := aliceClient.CompleteRequest(request.ID, due)
	if err != nil {
		log.Fatalf("complete request: %v", err)
	}
	syncBoth(aliceClient, bobClient)

	fmt.Printf("loan started: %s lent %q to %s (risk: %s)\n",
		record.LenderName, record.ItemName, record.BorrowerName,
		bobClient.RiskFor(groupID, "Bob"))

	if _, err := bobClient.CompleteEntry(record.ID, true); err != nil {
		log.Fatalf("complete entry: %v", err)
	}
	syncBoth(bobClient, aliceClient)

	fmt.Printf("loan returned: %d active, %d in history on Alice's instance (risk: %s)\n",
		len(aliceClient.ListActive(groupID)),
		len(aliceClient.ListHistory(groupID)),
		aliceClient.RiskFor(groupID, "Bob"))
}

func newClient(dbPath string, logger *oteladapters.SlogLogger) (*client.Client, func()) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	backend, err := sqliteengine.NewBackend(db)
	if err != nil {
		log.Fatalf("create backend: %v", err)
	}

	c, err := client.New(
		client.WithLogger(logger),
		client.WithBackend(backend, syncengine.WithInterval(5*time.Second)),
	)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	return c, func() {
		c.StopSync()
		_ = db.Close()
	}
}

// syncBoth pushes from the writing instance and pulls on the observing one.
func syncBoth(writer, reader *client.Client) {
	if err := writer.SyncNow(); err != nil {
		log.Fatalf("sync: %v", err)
	}

	if err := reader.SyncNow(); err != nil {
		log.Fatalf("sync: %v", err)
	}
}
