package sync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/cpg/sync"
	"github.com/etenlab/core/internal/cpg/transport"
)

// This example wires a syncer to a peer and pushes local writes.
// Note: This is for documentation only and won't run as a test.
func ExampleNew() {
	ctx := context.Background()

	database, err := db.Open(".cpg/cpg.db")
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		log.Fatal(err)
	}

	states, err := sync.OpenBadgerStateStore(".cpg/state")
	if err != nil {
		log.Fatal(err)
	}
	defer states.Close()

	client, err := transport.NewClient("https://cpg.example.org")
	if err != nil {
		log.Fatal(err)
	}

	syncer, err := sync.New(ctx, database.Store, sync.Options{Client: client, State: states})
	if err != nil {
		log.Fatal(err)
	}

	// Writes are stamped with the syncer's current layer
	first := graph.NewFirstLayer(database.Store, syncer)
	if _, err := first.CreateNode(ctx, schema.NodeTypeWord); err != nil {
		log.Fatal(err)
	}

	entries, err := syncer.SyncOut(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("pushed %d rows\n", schema.CountRows(entries))
}

// This example moves a database between machines without a network.
func ExampleSyncer_ExportSnapshot() {
	ctx := context.Background()

	database, err := db.Open(".cpg/cpg.db")
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	syncer, err := sync.New(ctx, database.Store, sync.Options{})
	if err != nil {
		log.Fatal(err)
	}

	if err := syncer.ExportSnapshot(ctx, "db.json.gz"); err != nil {
		log.Fatal(err)
	}

	// On the other machine
	n, err := syncer.SyncInFromFile(ctx, "db.json.gz")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("applied %d rows\n", n)
}
