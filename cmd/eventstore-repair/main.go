// Command eventstore-repair is an operator tool for inspecting and
// migrating individual objects directly against the blob backend,
// following the teacher's cmd/ subcommand-per-operation layout
// (cmd/ingester/main.go's flags.NewParser + AddCommand pattern) without
// pulling in the rest of that binary's gazette-specific serving stack.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/config"
	"github.com/eventledger/eventledger/document"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/eventlog"
	"github.com/eventledger/eventledger/eventstore"
	"github.com/eventledger/eventledger/hashchain"
	"github.com/eventledger/eventledger/model"
	"github.com/eventledger/eventledger/storetype"
)

var opts struct {
	config.Config
}

func buildStore(ctx context.Context, log logrus.FieldLogger) (*eventstore.Store, blob.Store, error) {
	b, err := eventstore.NewBlobStore(ctx, opts.Blob, log)
	if err != nil {
		return nil, nil, err
	}

	docs := storetype.NewRegistry[*document.Store]("blob")
	docs.Register("blob", document.New(b, "blob", log, opts.Blob.AutoCreate))

	events := storetype.NewRegistry[*eventlog.Store]("blob")
	events.Register("blob", eventlog.New(b, "blob", log))

	regs := eventstore.Registries{Documents: docs, Events: events}
	return eventstore.New(regs, nil, nil, log), b, nil
}

type verifyCmd struct {
	ObjectName string `long:"object-name" required:"true"`
	ObjectID   string `long:"object-id" required:"true"`
}

func (c *verifyCmd) Execute(_ []string) error {
	log := logrus.StandardLogger()
	ctx := context.Background()

	store, b, err := buildStore(ctx, log)
	if err != nil {
		return err
	}

	doc, err := store.GetObject(ctx, c.ObjectName, c.ObjectID, "blob")
	if err != nil {
		return err
	}

	path := eventlog.ResolveStreamPath(doc.ObjectName, doc.Active, nil)
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Printf("stream %q has no event log blob yet; nothing to verify\n", doc.Active.StreamIdentifier)
		return nil
	}

	events, err := store.ReadEvents(ctx, *doc, nil, nil, nil)
	if err != nil {
		return err
	}
	_ = events // presence confirms the blob deserializes; the document's own hash is checked below

	body, err := hashchain.Canonicalize(*doc)
	if err != nil {
		return err
	}
	wantHash := hashchain.Sum(body)
	if wantHash != doc.Hash {
		return errs.New(errs.KindHashChainBroken, "stored document hash %q does not match recomputed hash %q", doc.Hash, wantHash)
	}

	fmt.Printf("object %s/%s: active stream %q, %d events, document hash OK\n",
		doc.ObjectName, doc.ObjectID, doc.Active.StreamIdentifier, len(events))
	return nil
}

type migrateCmd struct {
	ObjectName   string `long:"object-name" required:"true"`
	ObjectID     string `long:"object-id" required:"true"`
	NewStreamID  string `long:"new-stream-id" required:"true" description:"Stream identifier the object should move to"`
	EnableChunks bool   `long:"enable-chunks"`
	ChunkSize    int    `long:"chunk-size" default:"1000"`
}

func (c *migrateCmd) Execute(_ []string) error {
	log := logrus.StandardLogger()
	ctx := context.Background()

	store, _, err := buildStore(ctx, log)
	if err != nil {
		return err
	}

	doc, err := store.GetObject(ctx, c.ObjectName, c.ObjectID, "blob")
	if err != nil {
		return err
	}

	newActive := doc.Active
	newActive.StreamIdentifier = c.NewStreamID
	newActive.CurrentStreamVersion = -1
	newActive.StreamChunks = nil
	newActive.SnapShots = nil
	if c.EnableChunks {
		newActive.ChunkSettings = &model.ChunkSettings{EnableChunks: true, ChunkSize: c.ChunkSize}
	} else {
		newActive.ChunkSettings = nil
	}

	if err := store.MigrateStream(ctx, doc, newActive); err != nil {
		return err
	}

	fmt.Printf("object %s/%s migrated to stream %q\n", doc.ObjectName, doc.ObjectID, c.NewStreamID)
	return nil
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	_, _ = parser.AddCommand("verify-hash-chain", "Verify an object's document hash against its stored value", "", &verifyCmd{})
	_, _ = parser.AddCommand("migrate-stream", "Move an object to a new active stream configuration", "", &migrateCmd{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		logrus.WithError(err).Error("eventstore-repair failed")
		os.Exit(1)
	}
}
