package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Entries demonstrates recording a run and querying the
// entries that did not converge.
func ExampleSQLiteStore_Entries() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	run := &engine.Run{
		ID:        "run-001",
		PlanID:    "plan-001",
		Host:      "local",
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.BeginRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	outcomes := []engine.Outcome{engine.OutcomeApplied, engine.OutcomeRolledBack}
	for i, outcome := range outcomes {
		entry := &engine.AuditEntry{
			RunID:    run.ID,
			Sequence: i,
			Action: engine.Action{
				Directive: engine.Directive{Kind: engine.KindRule, Key: fmt.Sprintf("%d/tcp", 22+i), Value: "allow"},
				Kind:      engine.ActionAdd,
			},
			Outcome: outcome,
		}
		if err := store.Append(ctx, entry); err != nil {
			log.Fatal(err)
		}
	}

	entries, err := store.Entries(ctx, engine.RunFilter{
		RunID:    run.ID,
		Outcomes: []engine.Outcome{engine.OutcomeRolledBack},
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range entries {
		fmt.Printf("%d %s %s\n", e.Sequence, e.Action.Directive.Key, e.Outcome)
	}
	// Output: 1 23/tcp rolled_back
}

// ExampleSQLiteStore_SaveSnapshot demonstrates persisting a snapshot before
// a file is rewritten.
func ExampleSQLiteStore_SaveSnapshot() {
	dir, _ := os.MkdirTemp("", "converge-backups")
	defer os.RemoveAll(dir)

	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:", BackupDir: dir})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	snap := &engine.ResourceSnapshot{
		Ref:     engine.ResourceRef{Kind: engine.KindFileBlock, Name: "sshd", Location: "/etc/ssh/sshd_config"},
		Content: []byte("PasswordAuthentication yes\n"),
		Existed: true,
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		log.Fatal(err)
	}

	loaded, err := store.GetSnapshot(ctx, snap.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s %d bytes\n", loaded.Ref, loaded.Size)
	// Output: file_block/sshd 27 bytes
}
