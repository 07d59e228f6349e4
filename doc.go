// Package maggma is a framework for scientific ETL: it moves documents
// through transformation stages from one document-oriented data source to
// another.
//
// The package tree mirrors the stages a build goes through:
//
//   - store: the abstract document-access capability (Store) and its
//     reference adapters (in-memory, on-disk, sqlite, S3, and compound
//     join/concat/alias wrappers).
//   - builder: the three-phase Builder contract (GetItems / ProcessItem /
//     UpdateTargets) plus the MapBuilder and GroupBuilder templates.
//   - engine: the single-process concurrent executor (producer, bounded
//     worker pool, consumer) that drives one Builder to completion.
//   - distributed: the optional Manager/Worker protocol that splits a
//     Builder's work into chunks and dispatches them over a message bus.
//   - report: the BuildEvent stream and its best-effort event-sink writer.
//   - serial: the self-describing tagged-union registry used to hydrate
//     Builders and Stores from a persisted configuration.
//   - runner: the top-level driver that orders Builders, picks single-
//     process or distributed execution, and wires the Reporter.
//
// # Quick Start
//
//	src := store.NewMemoryStore("source", "name", "last_updated")
//	dst := store.NewMemoryStore("target", "name", "last_updated")
//	b := builder.NewMapBuilder("double", src, dst, func(_ context.Context, doc store.Document) (store.Document, error) {
//	    doc["v"] = doc["v"].(float64) * 2
//	    return doc, nil
//	})
//	r := runner.New(runner.WithBuilders(b))
//	err := r.Run(context.Background())
package maggma
