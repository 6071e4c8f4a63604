package atomix

import "context"

// Get fetches one document by key, applying the load policy and the TTL
// refresh policy. The key's type prefix selects the schema.
func (db *DB) Get(ctx context.Context, key Key) (*Document, error) {
	s, err := db.schemaFor(key)
	if err != nil {
		return nil, err
	}
	raw, found, err := db.store.JSONGet(ctx, key.String(), "$")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, newError(NotFound, "document %s not found", key)
	}
	d := newDocument(db, s, key.PK(), nil, "")
	if err := d.load(raw); err != nil {
		return nil, err
	}
	if err := refreshTTL(ctx, db.store, key, s); err != nil {
		return nil, err
	}
	return d, nil
}

// GetMany fetches documents in one round trip, preserving positions: a
// missing key yields a nil entry. All keys are resolved against the registry
// before anything is sent.
func (db *DB) GetMany(ctx context.Context, keys ...Key) ([]*Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	schemas := make([]*Schema, len(keys))
	raw := make([]string, len(keys))
	for i, k := range keys {
		s, err := db.schemaFor(k)
		if err != nil {
			return nil, err
		}
		schemas[i] = s
		raw[i] = k.String()
	}
	payloads, err := db.store.JSONMGet(ctx, "$", raw...)
	if err != nil {
		return nil, err
	}
	if len(payloads) != len(keys) {
		return nil, newError(Corrupt, "batch fetch returned %d entries for %d keys", len(payloads), len(keys))
	}
	docs := make([]*Document, len(keys))
	for i, p := range payloads {
		if p == nil {
			continue
		}
		d := newDocument(db, schemas[i], keys[i].PK(), nil, "")
		if err := d.load(p); err != nil {
			return nil, err
		}
		if err := refreshTTL(ctx, db.store, keys[i], schemas[i]); err != nil {
			return nil, err
		}
		docs[i] = d
	}
	return docs, nil
}

// Keys enumerates the stored keys of a type with cursor pagination, filtering
// out the derived priority-queue keys that share the type's prefix.
func (db *DB) Keys(ctx context.Context, typeName string) ([]Key, error) {
	if _, ok := db.Schema(typeName); !ok {
		return nil, newError(UnknownType, "no schema registered for type %s", typeName)
	}
	var out []Key
	var cursor uint64
	for {
		page, next, err := db.store.Scan(ctx, cursor, typeName+":*", db.options.ScanPageSize)
		if err != nil {
			return nil, err
		}
		for _, k := range page {
			if isQueueKey(k) {
				continue
			}
			out = append(out, Key(k))
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Find fetches every stored document of a type. A document deleted between
// enumeration and fetch is skipped rather than failing the whole scan.
func (db *DB) Find(ctx context.Context, typeName string) ([]*Document, error) {
	keys, err := db.Keys(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	fetched, err := db.GetMany(ctx, keys...)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(fetched))
	for _, d := range fetched {
		if d != nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}
