// Package inmemory provides an in-process atomix.Store with the same
// observable semantics as the production Redis-backed one: JSONPath-addressed
// document trees, sorted sets, expiries against a controllable clock, and a
// script cache that can be flushed to exercise the recovery protocol. It
// backs the package tests and works as a test double for dependents.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sharedcode/atomix"
)

type entryKind int

const (
	kindDoc entryKind = iota
	kindString
	kindZSet
)

type entry struct {
	kind entryKind
	doc  any
	str  string
	zset map[string]float64
	// expireAt is zero for keys without expiry.
	expireAt time.Time
}

// MemStore is the in-process store. All operations are serialized under one
// mutex; ExecTx and scripts run atomically under it, mirroring the server's
// single-threaded command execution.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     time.Time

	// script cache: handle -> logical catalog name.
	loaded   map[string]string
	failEval bool

	// open scan iterations: cursor -> last key returned. Keyed marks keep a
	// scan valid while the caller deletes the keys it already received.
	scanMarks map[uint64]string
	scanSeq   uint64
}

var _ atomix.Store = (*MemStore)(nil)

// New creates an empty store with the clock set to the wall clock.
func New() *MemStore {
	return &MemStore{
		entries:   map[string]*entry{},
		now:       time.Now(),
		loaded:    map[string]string{},
		scanMarks: map[uint64]string{},
	}
}

// Advance moves the store's clock forward, expiring keys whose TTL elapses.
func (s *MemStore) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// FlushScripts empties the script cache, as SCRIPT FLUSH would. Subsequent
// invocations fail as NOSCRIPT until the catalog is re-registered.
func (s *MemStore) FlushScripts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = map[string]string{}
}

// FailEvalSha forces every script invocation to fail as NOSCRIPT even after
// re-registration, to exercise the persistent-failure path.
func (s *MemStore) FailEvalSha(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failEval = fail
}

// Len reports the number of live keys.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if s.live(k) != nil {
			n++
		}
	}
	return n
}

func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}

// live returns the entry when it exists and has not expired, purging it
// lazily otherwise. Callers hold the mutex.
func (s *MemStore) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !s.now.Before(e.expireAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// canonical round-trips a value through JSON so the stored tree carries the
// same types a decoded wire payload would.
func canonical(v any) (any, error) {
	ba, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(ba, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	c, _ := canonical(v)
	return c
}

// --- JSONPath handling. The restricted form the wrappers emit:
// "$", "$.a.b", "$.a[3]", "$.a.b[2].c".

type pathSeg struct {
	field    string
	index    int
	hasIndex bool
}

func parsePath(p string) ([]pathSeg, error) {
	if !strings.HasPrefix(p, "$") {
		return nil, fmt.Errorf("path %q must start with $", p)
	}
	rest := p[1:]
	var segs []pathSeg
	for _, part := range strings.Split(rest, ".") {
		if part == "" {
			continue
		}
		seg := pathSeg{field: part}
		if i := strings.IndexByte(part, '['); i >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("path %q: malformed index", p)
			}
			var idx int
			if _, err := fmt.Sscanf(part[i:], "[%d]", &idx); err != nil {
				return nil, fmt.Errorf("path %q: malformed index: %v", p, err)
			}
			seg.field = part[:i]
			seg.index = idx
			seg.hasIndex = true
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// resolve walks the tree to the value at segs. found=false when any step is
// absent.
func resolve(tree any, segs []pathSeg) (any, bool) {
	cur := tree
	for _, seg := range segs {
		if seg.field != "" {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = obj[seg.field]
			if !ok {
				return nil, false
			}
		}
		if seg.hasIndex {
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			idx := seg.index
			if idx < 0 {
				idx = len(arr) + idx
			}
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

// setAt writes value at segs, requiring every intermediate container to
// exist, as the server does for non-root paths.
func setAt(tree any, segs []pathSeg, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("path step %q: not an object", seg.field)
	}
	if seg.hasIndex {
		child, ok := obj[seg.field].([]any)
		if !ok {
			return nil, fmt.Errorf("path step %q: not an array", seg.field)
		}
		idx := seg.index
		if idx < 0 {
			idx = len(child) + idx
		}
		if idx < 0 || idx >= len(child) {
			return nil, fmt.Errorf("path step %q: index %d out of range", seg.field, seg.index)
		}
		if len(segs) == 1 {
			child[idx] = value
			return tree, nil
		}
		sub, err := setAt(child[idx], segs[1:], value)
		if err != nil {
			return nil, err
		}
		child[idx] = sub
		return tree, nil
	}
	if len(segs) == 1 {
		obj[seg.field] = value
		return tree, nil
	}
	child, ok := obj[seg.field]
	if !ok {
		return nil, fmt.Errorf("path step %q: absent", seg.field)
	}
	sub, err := setAt(child, segs[1:], value)
	if err != nil {
		return nil, err
	}
	obj[seg.field] = sub
	return tree, nil
}

func delAt(tree any, segs []pathSeg) (any, bool, error) {
	if len(segs) == 0 {
		return nil, true, nil
	}
	parent := segs[:len(segs)-1]
	last := segs[len(segs)-1]
	if last.hasIndex {
		return nil, false, fmt.Errorf("element deletion by path is unsupported")
	}
	container, found := resolve(tree, parent)
	if !found {
		return tree, false, nil
	}
	obj, ok := container.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("path step %q: not an object", last.field)
	}
	if _, ok := obj[last.field]; !ok {
		return tree, false, nil
	}
	delete(obj, last.field)
	return tree, true, nil
}

// --- DocumentStore.

func (s *MemStore) JSONSet(ctx context.Context, key, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.jsonSet(key, path, value)
	return err
}

func (s *MemStore) jsonSet(key, path string, value any) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	v, err := canonical(value)
	if err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil {
		if len(segs) > 0 {
			return nil, fmt.Errorf("key %s: new documents must be created at the root path", key)
		}
		s.entries[key] = &entry{kind: kindDoc, doc: v}
		return "OK", nil
	}
	if e.kind != kindDoc {
		return nil, fmt.Errorf("key %s holds a non-document value", key)
	}
	tree, err := setAt(e.doc, segs, v)
	if err != nil {
		return nil, err
	}
	e.doc = tree
	return "OK", nil
}

func (s *MemStore) JSONGet(ctx context.Context, key, path string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jsonGet(key, path)
}

func (s *MemStore) jsonGet(key, path string) (any, bool, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return nil, false, nil
	}
	v, found := resolve(e.doc, segs)
	if !found {
		return nil, false, nil
	}
	return deepCopy(v), true, nil
}

func (s *MemStore) JSONMGet(ctx context.Context, path string, keys ...string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(keys))
	for i, k := range keys {
		v, found, err := s.jsonGet(k, path)
		if err != nil {
			return nil, err
		}
		if found {
			out[i] = v
		}
	}
	return out, nil
}

func (s *MemStore) JSONDel(ctx context.Context, key, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.jsonDel(key, path)
	return err
}

func (s *MemStore) jsonDel(key, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return int64(0), nil
	}
	if len(segs) == 0 {
		delete(s.entries, key)
		return int64(1), nil
	}
	tree, removed, err := delAt(e.doc, segs)
	if err != nil {
		return nil, err
	}
	e.doc = tree
	if removed {
		return int64(1), nil
	}
	return int64(0), nil
}

func (s *MemStore) JSONNumIncrBy(ctx context.Context, key, path string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numIncrBy(key, path, delta)
}

func (s *MemStore) numIncrBy(key, path string, delta float64) (float64, error) {
	segs, err := parsePath(path)
	if err != nil {
		return 0, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return 0, fmt.Errorf("key %s does not exist", key)
	}
	cur, found := resolve(e.doc, segs)
	if !found {
		return 0, fmt.Errorf("key %s: path %s does not exist", key, path)
	}
	n, ok := cur.(float64)
	if !ok {
		return 0, fmt.Errorf("key %s: value at %s is not a number", key, path)
	}
	n += delta
	if _, err := setAt(e.doc, segs, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *MemStore) JSONArrAppend(ctx context.Context, key, path string, elems ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arrAppend(key, path, elems)
}

func (s *MemStore) arrAppend(key, path string, elems []any) (int64, error) {
	arr, e, segs, err := s.arrayAt(key, path)
	if err != nil {
		return 0, err
	}
	for _, el := range elems {
		v, err := canonical(el)
		if err != nil {
			return 0, err
		}
		arr = append(arr, v)
	}
	if _, err := setAt(e.doc, segs, arr); err != nil {
		return 0, err
	}
	return int64(len(arr)), nil
}

func (s *MemStore) JSONArrInsert(ctx context.Context, key, path string, index int64, elems ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arrInsert(key, path, index, elems)
}

func (s *MemStore) arrInsert(key, path string, index int64, elems []any) (int64, error) {
	arr, e, segs, err := s.arrayAt(key, path)
	if err != nil {
		return 0, err
	}
	idx := int(index)
	if idx < 0 {
		idx = len(arr) + idx
	}
	if idx < 0 || idx > len(arr) {
		return 0, fmt.Errorf("key %s: insert index %d out of range", key, index)
	}
	ins := make([]any, 0, len(elems))
	for _, el := range elems {
		v, err := canonical(el)
		if err != nil {
			return 0, err
		}
		ins = append(ins, v)
	}
	arr = append(arr[:idx], append(ins, arr[idx:]...)...)
	if _, err := setAt(e.doc, segs, arr); err != nil {
		return 0, err
	}
	return int64(len(arr)), nil
}

func (s *MemStore) JSONArrPop(ctx context.Context, key, path string, index int) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr, e, segs, err := s.arrayAt(key, path)
	if err != nil {
		return nil, false, nil
	}
	if len(arr) == 0 {
		return nil, false, nil
	}
	idx := index
	if idx < 0 {
		idx = len(arr) + idx
	}
	if idx < 0 || idx >= len(arr) {
		return nil, false, nil
	}
	popped := arr[idx]
	arr = append(arr[:idx], arr[idx+1:]...)
	if _, err := setAt(e.doc, segs, arr); err != nil {
		return nil, false, err
	}
	return popped, true, nil
}

// arrayAt resolves the array value at key/path, with its entry and parsed
// path for writing back.
func (s *MemStore) arrayAt(key, path string) ([]any, *entry, []pathSeg, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, nil, nil, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return nil, nil, nil, fmt.Errorf("key %s does not exist", key)
	}
	cur, found := resolve(e.doc, segs)
	if !found {
		return nil, nil, nil, fmt.Errorf("key %s: path %s does not exist", key, path)
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, nil, nil, fmt.Errorf("key %s: value at %s is not an array", key, path)
	}
	return arr, e, segs, nil
}

// --- KeyStore.

func (s *MemStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl < 0 {
		return nil
	}
	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = s.now.Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemStore) Get(ctx context.Context, key string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil || e.kind != kindString {
		return false, "", nil
	}
	return true, e.str, nil
}

func (s *MemStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.del(keys), nil
}

func (s *MemStore) del(keys []string) int64 {
	var n int64
	for _, k := range keys {
		if s.live(k) != nil {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key) != nil, nil
}

func (s *MemStore) Expire(ctx context.Context, key string, ttl time.Duration, ifNoExpiry bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expire(key, ttl, ifNoExpiry), nil
}

func (s *MemStore) expire(key string, ttl time.Duration, ifNoExpiry bool) bool {
	e := s.live(key)
	if e == nil {
		return false
	}
	if ifNoExpiry && !e.expireAt.IsZero() {
		return false
	}
	e.expireAt = s.now.Add(ttl)
	return true
}

func (s *MemStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return 0, false, nil
	}
	if e.expireAt.IsZero() {
		return 0, true, nil
	}
	return e.expireAt.Sub(s.now), true, nil
}

func (s *MemStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	after := ""
	if cursor != 0 {
		mark, ok := s.scanMarks[cursor]
		if !ok {
			return nil, 0, nil
		}
		delete(s.scanMarks, cursor)
		after = mark
	}
	var keys []string
	for k := range s.entries {
		if k <= after || s.live(k) == nil {
			continue
		}
		if globMatch(match, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if count <= 0 {
		count = 10
	}
	if int64(len(keys)) <= count {
		return keys, 0, nil
	}
	page := keys[:count]
	s.scanSeq++
	s.scanMarks[s.scanSeq] = page[len(page)-1]
	return page, s.scanSeq, nil
}

// globMatch supports the patterns the module issues: literals and a single
// '*' wildcard.
func globMatch(pattern, s string) bool {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern == s
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	return len(s) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix)
}
