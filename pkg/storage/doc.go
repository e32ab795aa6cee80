/*
Package storage provides the pluggable storage abstraction for entries the
listener receives from a chunk debug stream.

# Storage Interface

Two backends implement the Storage interface:
  - memory: in-memory storage for testing and short-lived listeners
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

Every entry belongs to a session. The listener opens one session per stream
connection and the importer opens one per loaded dump file. Entries carry a
sequence number that is global to the store, so Query always returns them in
arrival order regardless of how a backend lays out its keys.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/chunkdebug"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Write(ctx, sessionID, events)

	// Everything that happened to one chunk during a session
	pos := event.Pos{Dimension: 0, X: 3, Z: 4}
	entries, err := store.Query(ctx, storage.QueryRequest{
	    Session: sessionID,
	    Chunk:   &pos,
	})

	// The distinct ticks a viewer can step through
	ticks, err := storage.Ticks(ctx, store, sessionID, 0)

# Query Filtering

All QueryRequest filters are optional and combine with AND. MinTick and MaxTick
are inclusive. Limit keeps the earliest matching entries.

# Best Practices

 1. Always call Close() when done to flush pending writes
 2. Use context.WithTimeout() to prevent hung queries
 3. Batch writes: the listener groups received lines before writing
*/
package storage
