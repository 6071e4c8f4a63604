package atomix

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sharedcode/atomix/scripts"
)

// Options configures a DB handle. Zero fields fall back to DefaultOptions.
type Options struct {
	// MaxDeleteBatch caps how many keys one atomic deletion round trip covers.
	MaxDeleteBatch int
	// LockTTL bounds how long a scoped lock is held before it expires on its
	// own, should the holder die without releasing it.
	LockTTL time.Duration
	// ScanPageSize is the page size hint for key enumeration.
	ScanPageSize int64
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxDeleteBatch: 100,
		LockTTL:        30 * time.Second,
		ScanPageSize:   512,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxDeleteBatch <= 0 {
		o.MaxDeleteBatch = def.MaxDeleteBatch
	}
	if o.LockTTL <= 0 {
		o.LockTTL = def.LockTTL
	}
	if o.ScanPageSize <= 0 {
		o.ScanPageSize = def.ScanPageSize
	}
	return o
}

// DB is a handle over a document store with a schema registry. It is safe
// for concurrent use.
type DB struct {
	store   Store
	options Options

	mu      sync.RWMutex
	schemas map[string]*Schema
}

// Open wraps a store in a DB handle. Call Init once before issuing scripted
// or transactional operations.
func Open(store Store, options Options) *DB {
	return &DB{
		store:   store,
		options: options.withDefaults(),
		schemas: map[string]*Schema{},
	}
}

// Store exposes the underlying store, for callers that need raw access.
func (db *DB) Store() Store {
	return db.store
}

// Init verifies connectivity and uploads the script catalog.
func (db *DB) Init(ctx context.Context) error {
	if err := db.store.Ping(ctx); err != nil {
		return err
	}
	return scripts.Register(ctx, db.store)
}

// Register validates schemas and adds them to the registry. A schema's Name
// doubles as its key prefix; re-registering a name replaces the previous
// schema.
func (db *DB) Register(schemas ...*Schema) error {
	for _, s := range schemas {
		if err := s.resolve(); err != nil {
			return err
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range schemas {
		db.schemas[s.Name] = s
	}
	return nil
}

// Schema looks up a registered schema by type name.
func (db *DB) Schema(name string) (*Schema, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.schemas[name]
	return s, ok
}

// schemaFor resolves the schema a key belongs to from its type prefix.
func (db *DB) schemaFor(key Key) (*Schema, error) {
	prefix := key.Prefix()
	if prefix == "" {
		return nil, newError(UnknownType, "key %s carries no type prefix", key)
	}
	s, ok := db.Schema(prefix)
	if !ok {
		return nil, newError(UnknownType, "key %s: no schema registered for type %s", key, prefix)
	}
	return s, nil
}

// Key builds a document key from a type name and an identifier. An identifier
// already carrying the type prefix passes through unchanged, so callers can
// hand either form to the fetch APIs.
func (db *DB) Key(typeName, id string) Key {
	if strings.HasPrefix(id, typeName+":") {
		return Key(id)
	}
	return MakeKey(typeName, id)
}

// New creates an unsaved document of the given type with a generated primary
// key.
func (db *DB) New(typeName string) (*Document, error) {
	return db.NewWithPK(typeName, NewUUID().String())
}

// NewWithPK creates an unsaved document with a caller-chosen primary key.
func (db *DB) NewWithPK(typeName, pk string) (*Document, error) {
	s, ok := db.Schema(typeName)
	if !ok {
		return nil, newError(UnknownType, "no schema registered for type %s", typeName)
	}
	if pk == "" {
		return nil, newError(BadArgument, "type %s: empty primary key", typeName)
	}
	return newDocument(db, s, pk, nil, ""), nil
}
