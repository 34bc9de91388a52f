// Package metadb instantiates the configured database backend.
package metadb

import (
	"fmt"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/inmemory"
	"github.com/veilpool/veilpool-node/db/pebbledb"
)

// New creates a database of the given type at the given directory.
func New(typ, dir string) (db.Database, error) {
	var (
		database db.Database
		err      error
	)
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		database, err = pebbledb.New(opts)
	case db.TypeInMemory:
		database, err = inmemory.New(opts)
	default:
		return nil, fmt.Errorf("invalid database type: %q", typ)
	}
	if err != nil {
		return nil, err
	}
	return database, nil
}
