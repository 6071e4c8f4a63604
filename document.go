package atomix

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Document is a typed view over one stored JSON document (or, for nested
// documents, over a sub-object of one). Field access goes through the typed
// wrappers, which keep a local value and decide per call whether to buffer,
// write through, or stay local. A Document is not safe for concurrent use;
// concurrent writers coordinate through Now-suffixed operations or locks.
type Document struct {
	db     *DB
	schema *Schema
	pk     string

	// parent and name place a nested document inside its root's JSON tree.
	parent *Document
	name   string

	fields map[string]any
	failed map[string]struct{}
}

func newDocument(db *DB, s *Schema, pk string, parent *Document, name string) *Document {
	d := &Document{
		db:     db,
		schema: s,
		pk:     pk,
		parent: parent,
		name:   name,
		fields: make(map[string]any, len(s.Fields)),
	}
	for i := range s.Fields {
		spec := &s.Fields[i]
		d.fields[spec.Name] = d.newField(spec)
	}
	return d
}

func (d *Document) newField(spec *FieldSpec) any {
	ref := fieldRef{doc: d, name: spec.Name}
	switch spec.Kind {
	case KindInt:
		return &Int{fieldRef: ref}
	case KindFloat:
		return &Float{fieldRef: ref}
	case KindString:
		return &Str{fieldRef: ref}
	case KindBytes:
		return &Bytes{fieldRef: ref}
	case KindTime:
		return &Time{fieldRef: ref}
	case KindTimestamp:
		return &Timestamp{fieldRef: ref}
	case KindList:
		return &List{fieldRef: ref, elem: spec.Elem}
	case KindMap:
		return &Map{fieldRef: ref, elem: spec.Elem, v: map[string]any{}}
	case KindQueue:
		return &Queue{fieldRef: ref, elem: spec.Elem}
	case KindDoc:
		return newDocument(d.db, spec.Sub, "", d, spec.Name)
	}
	panic(fmt.Sprintf("atomix: schema %s: field %s has unresolved kind", d.schema.Name, spec.Name))
}

// Key returns the document's storage key. Nested documents share their
// root's key.
func (d *Document) Key() Key {
	if d.parent != nil {
		return d.parent.Key()
	}
	return MakeKey(d.schema.Name, d.pk)
}

// PK returns the primary key. Empty for nested documents.
func (d *Document) PK() string {
	return d.pk
}

// SetPK re-keys an unsaved root document.
func (d *Document) SetPK(pk string) error {
	if d.parent != nil {
		return newError(BadArgument, "nested document %s has no key of its own", d.path())
	}
	if pk == "" {
		return newError(BadArgument, "type %s: empty primary key", d.schema.Name)
	}
	d.pk = pk
	return nil
}

// TypeName returns the schema's type name.
func (d *Document) TypeName() string {
	return d.schema.Name
}

// IsNested reports whether this view addresses a sub-object of another
// document.
func (d *Document) IsNested() bool {
	return d.parent != nil
}

func (d *Document) root() *Document {
	r := d
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// path is the dotted location inside the root's JSON tree, "" at the root.
func (d *Document) path() string {
	if d.parent == nil {
		return ""
	}
	return d.parent.path() + "." + d.name
}

// FailedFields lists the field positions dropped by the most recent tolerant
// load, sorted. Element positions use the "name[i]" form.
func (d *Document) FailedFields() []string {
	out := make([]string, 0, len(d.failed))
	for f := range d.failed {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Typed accessors. They panic on an unknown name or a kind mismatch: both are
// programming errors in the caller's schema wiring, not runtime conditions.

func (d *Document) Int(name string) *Int             { return docField[*Int](d, name, KindInt) }
func (d *Document) Float(name string) *Float         { return docField[*Float](d, name, KindFloat) }
func (d *Document) Str(name string) *Str             { return docField[*Str](d, name, KindString) }
func (d *Document) Bytes(name string) *Bytes         { return docField[*Bytes](d, name, KindBytes) }
func (d *Document) Time(name string) *Time           { return docField[*Time](d, name, KindTime) }
func (d *Document) Timestamp(name string) *Timestamp { return docField[*Timestamp](d, name, KindTimestamp) }
func (d *Document) List(name string) *List           { return docField[*List](d, name, KindList) }
func (d *Document) Map(name string) *Map             { return docField[*Map](d, name, KindMap) }
func (d *Document) Queue(name string) *Queue         { return docField[*Queue](d, name, KindQueue) }
func (d *Document) Doc(name string) *Document        { return docField[*Document](d, name, KindDoc) }

func docField[T any](d *Document, name string, kind FieldKind) T {
	w, ok := d.fields[name].(T)
	if !ok {
		panic(fmt.Sprintf("atomix: %s has no %s field %q", d.schema.Name, kind, name))
	}
	return w
}

// dump serializes the document's local state into its wire form. Queue
// fields are omitted: their entries live in derived sorted-set keys.
func (d *Document) dump() (map[string]any, error) {
	out := make(map[string]any, len(d.schema.Fields))
	for i := range d.schema.Fields {
		spec := &d.schema.Fields[i]
		switch f := d.fields[spec.Name].(type) {
		case *Queue:
		case *Document:
			sub, err := f.dump()
			if err != nil {
				return nil, err
			}
			out[spec.Name] = sub
		case interface{ dump() (any, error) }:
			v, err := f.dump()
			if err != nil {
				return nil, err
			}
			out[spec.Name] = v
		}
	}
	return out, nil
}

// Set assigns a field's local value without touching the store; a later Save
// or Update writes it. Queue and nested-document fields are mutated through
// their own wrappers instead.
func (d *Document) Set(name string, value any) error {
	spec, ok := d.schema.Field(name)
	if !ok {
		return newError(BadArgument, "type %s has no field %s", d.schema.Name, name)
	}
	if spec.Kind == KindQueue || spec.Kind == KindDoc {
		return newError(BadArgument, "field %s of kind %s cannot be assigned through Set", name, spec.Kind)
	}
	return d.fields[name].(interface{ setLocal(v any) error }).setLocal(value)
}

// SetAll assigns several fields locally, validating every name first.
func (d *Document) SetAll(values map[string]any) error {
	for name := range values {
		spec, ok := d.schema.Field(name)
		if !ok {
			return newError(BadArgument, "type %s has no field %s", d.schema.Name, name)
		}
		if spec.Kind == KindQueue || spec.Kind == KindDoc {
			return newError(BadArgument, "field %s of kind %s cannot be assigned through SetAll", name, spec.Kind)
		}
	}
	for name, value := range values {
		if err := d.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the document's local state to the store. Inside a transaction
// the whole-document rewrite is buffered; otherwise it is written through and
// the schema's TTL policy applied. Saving a nested document rewrites only its
// sub-object, which requires the root to already exist.
func (d *Document) Save(ctx context.Context) error {
	payload, err := d.dump()
	if err != nil {
		return err
	}
	key := d.Key().String()
	path := jsonPath(d.path())
	if t := txnFrom(ctx); t != nil {
		t.enqueue(Command{Kind: CmdJSONSet, Key: key, Path: path, Args: []any{payload}})
		t.touchSave(d.Key(), d.root().schema)
		return nil
	}
	if err := d.db.store.JSONSet(ctx, key, path, payload); err != nil {
		return err
	}
	root := d.root()
	if err := applySaveTTL(ctx, d.db.store, root.Key(), root.schema); err != nil {
		return err
	}
	return root.syncQueueTTLs(ctx)
}

// Reload replaces the local state with the stored one, applying the load
// policy and the TTL refresh policy.
func (d *Document) Reload(ctx context.Context) error {
	raw, found, err := d.db.store.JSONGet(ctx, d.Key().String(), jsonPath(d.path()))
	if err != nil {
		return err
	}
	if !found {
		return newError(NotFound, "document %s not found", d.Key())
	}
	if err := d.load(raw); err != nil {
		return err
	}
	root := d.root()
	return refreshTTL(ctx, d.db.store, root.Key(), root.schema)
}

// Update assigns fields by name and writes each as its own sub-path rewrite,
// leaving unnamed fields untouched. Inside a transaction the rewrites buffer;
// otherwise they go out as one atomic batch. Arguments are validated in full
// before anything is buffered or sent.
func (d *Document) Update(ctx context.Context, fields map[string]any) error {
	names := sortedKeys(fields)
	cmds := make([]Command, 0, len(names))
	for _, name := range names {
		spec, ok := d.schema.Field(name)
		if !ok {
			return newError(BadArgument, "type %s has no field %s", d.schema.Name, name)
		}
		if spec.Kind == KindQueue || spec.Kind == KindDoc {
			return newError(BadArgument, "field %s of kind %s cannot be assigned through Update", name, spec.Kind)
		}
		w := d.fields[name].(interface {
			setLocal(v any) error
			dump() (any, error)
		})
		if err := w.setLocal(fields[name]); err != nil {
			return err
		}
		payload, err := w.dump()
		if err != nil {
			return err
		}
		cmds = append(cmds, Command{
			Kind: CmdJSONSet,
			Key:  d.Key().String(),
			Path: jsonPath(d.path() + "." + name),
			Args: []any{payload},
		})
	}
	if t := txnFrom(ctx); t != nil {
		for _, c := range cmds {
			t.enqueue(c)
		}
		t.touch(d.Key(), d.root().schema)
		return nil
	}
	results, err := d.db.store.ExecTx(ctx, cmds)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	root := d.root()
	return refreshTTL(ctx, d.db.store, root.Key(), root.schema)
}

// Delete removes the document and its derived priority-queue keys. Inside a
// transaction the deletions are buffered for the flush.
func (d *Document) Delete(ctx context.Context) error {
	if d.parent != nil {
		return newError(BadArgument, "nested document %s cannot be deleted on its own", d.path())
	}
	keys := d.allKeys()
	if t := txnFrom(ctx); t != nil {
		t.enqueue(Command{Kind: CmdDel, Key: keys[0], Args: toAny(keys[1:])})
		return nil
	}
	_, err := d.db.store.Del(ctx, keys...)
	return err
}

// allKeys returns the document key followed by its derived queue keys.
func (d *Document) allKeys() []string {
	keys := []string{d.Key().String()}
	for _, qf := range d.schema.queueFields() {
		keys = append(keys, d.Key().queueKey(qf).String())
	}
	return keys
}

// SetTTL overrides the expiry on the document and its derived keys.
func (d *Document) SetTTL(ctx context.Context, ttl time.Duration) error {
	if d.parent != nil {
		return newError(BadArgument, "nested document %s has no expiry of its own", d.path())
	}
	if t := txnFrom(ctx); t != nil {
		for _, k := range d.allKeys() {
			t.enqueue(Command{Kind: CmdExpire, Key: k, TTL: ttl})
		}
		return nil
	}
	for _, k := range d.allKeys() {
		exists, err := d.db.store.Exists(ctx, k)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if _, err := d.db.store.Expire(ctx, k, ttl, false); err != nil {
			return err
		}
	}
	return nil
}

// TTL returns the document key's remaining expiry; found=false when the
// document does not exist, zero when it never expires.
func (d *Document) TTL(ctx context.Context) (time.Duration, bool, error) {
	return d.db.store.TTL(ctx, d.root().Key().String())
}

// Duplicate saves a copy of the local state under a fresh primary key and
// returns it. Queue entries live outside the document and are not copied.
func (d *Document) Duplicate(ctx context.Context) (*Document, error) {
	if d.parent != nil {
		return nil, newError(BadArgument, "nested document %s cannot be duplicated on its own", d.path())
	}
	dup := newDocument(d.db, d.schema, NewUUID().String(), nil, "")
	d.copyLocalTo(dup)
	if err := dup.Save(ctx); err != nil {
		return nil, err
	}
	return dup, nil
}

// DuplicateMany saves n copies concurrently; it returns the copies that were
// all saved, or the first save error.
func (d *Document) DuplicateMany(ctx context.Context, n int) ([]*Document, error) {
	if d.parent != nil {
		return nil, newError(BadArgument, "nested document %s cannot be duplicated on its own", d.path())
	}
	if n <= 0 {
		return nil, newError(BadArgument, "copy count %d must be positive", n)
	}
	dups := make([]*Document, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		dup := newDocument(d.db, d.schema, NewUUID().String(), nil, "")
		d.copyLocalTo(dup)
		dups[i] = dup
		g.Go(func() error {
			return dup.Save(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dups, nil
}

// SaveMany saves several documents concurrently. Inside a transaction the
// rewrites buffer sequentially in argument order instead, since the buffer is
// single-writer.
func (db *DB) SaveMany(ctx context.Context, docs ...*Document) error {
	if len(docs) == 0 {
		return nil
	}
	for i, d := range docs {
		if d == nil {
			return newError(BadArgument, "document %d is nil", i)
		}
	}
	if txnFrom(ctx) != nil {
		for _, d := range docs {
			if err := d.Save(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range docs {
		d := d
		g.Go(func() error {
			return d.Save(gctx)
		})
	}
	return g.Wait()
}

func (d *Document) copyLocalTo(dst *Document) {
	for name, w := range d.fields {
		switch f := w.(type) {
		case *Int:
			dst.fields[name].(*Int).v = f.v
		case *Float:
			dst.fields[name].(*Float).v = f.v
		case *Str:
			dst.fields[name].(*Str).v = f.v
		case *Bytes:
			dst.fields[name].(*Bytes).v = append([]byte(nil), f.v...)
		case *Time:
			dst.fields[name].(*Time).v = f.v
		case *Timestamp:
			dst.fields[name].(*Timestamp).v = f.v
		case *List:
			dst.fields[name].(*List).v = append([]any(nil), f.v...)
		case *Map:
			m := make(map[string]any, len(f.v))
			for k, v := range f.v {
				m[k] = v
			}
			dst.fields[name].(*Map).v = m
		case *Document:
			f.copyLocalTo(dst.fields[name].(*Document))
		case *Queue:
		}
	}
}

// syncQueueTTLs copies the root key's remaining expiry onto existing derived
// queue keys so they never outlive the document.
func (d *Document) syncQueueTTLs(ctx context.Context) error {
	for _, qf := range d.schema.queueFields() {
		if err := d.Queue(qf).syncTTL(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DocTxnOptions configures a per-document transactional scope.
type DocTxnOptions struct {
	// IgnoreMissing starts the scope from the local state when the document
	// is not stored yet, instead of failing.
	IgnoreMissing bool
	// IgnoreErrors swallows per-command failures at flush time.
	IgnoreErrors bool
}

// InTxn reloads the document, then runs fn inside a transaction scope whose
// buffer flushes atomically when fn returns. The reload means fn starts from
// the stored state; the flush sends the buffered mutations even when fn
// returns an error.
func (d *Document) InTxn(ctx context.Context, opts DocTxnOptions, fn TxnFunc) error {
	if d.parent != nil {
		return newError(BadArgument, "nested document %s cannot open its own scope", d.path())
	}
	if err := d.Reload(ctx); err != nil {
		if !(opts.IgnoreMissing && IsCode(err, NotFound)) {
			return err
		}
	}
	var topts []TxnOption
	if opts.IgnoreErrors {
		topts = append(topts, IgnoreErrors())
	}
	return d.db.InTxn(ctx, func(txCtx context.Context) error {
		if t := txnFrom(txCtx); t != nil {
			t.touch(d.Key(), d.schema)
		}
		return fn(txCtx)
	}, topts...)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
