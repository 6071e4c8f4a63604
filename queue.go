package atomix

import (
	"context"
	"encoding/json"
)

// PriorityItem is one queue entry with its score.
type PriorityItem struct {
	Item  any
	Score float64
}

// Queue wraps a priority-queue field. The entries live outside the JSON
// document, in a sorted set at a key derived from the parent's, so every
// operation is remote-immediate: there are no plain-verb buffered forms and
// no local mirror of the entries.
type Queue struct {
	fieldRef
	elem FieldKind
}

// Key returns the derived sorted-set key the entries live at.
func (f *Queue) Key() Key {
	return f.doc.root().Key().queueKey(f.name)
}

func (f *Queue) encode(item any) (string, error) {
	n, err := normalizeScalar(f.elem, item)
	if err != nil {
		return "", newError(BadArgument, "queue %s: %v", f.name, err)
	}
	d, err := dumpScalar(f.elem, n)
	if err != nil {
		return "", err
	}
	if s, ok := d.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", newError(BadArgument, "queue %s: unencodable item: %v", f.name, err)
	}
	return string(b), nil
}

// decode recovers an item from its member encoding: JSON where it parses,
// the raw string otherwise.
func (f *Queue) decode(member string) any {
	var out any
	if err := json.Unmarshal([]byte(member), &out); err != nil {
		return member
	}
	if decoded, err := decodeScalar(f.elem, out); err == nil {
		return decoded
	}
	return out
}

func (f *Queue) items(members []ZMember) []PriorityItem {
	out := make([]PriorityItem, len(members))
	for i, m := range members {
		out[i] = PriorityItem{Item: f.decode(m.Member), Score: m.Score}
	}
	return out
}

// Push adds one item with the given score, updating it when already present.
func (f *Queue) Push(ctx context.Context, item any, score float64) error {
	member, err := f.encode(item)
	if err != nil {
		return err
	}
	if _, err := f.store().ZAdd(ctx, f.Key().String(), false, ZMember{Member: member, Score: score}); err != nil {
		return err
	}
	return f.refreshQueue(ctx)
}

// PushMany adds items as one command, returning how many were newly added.
func (f *Queue) PushMany(ctx context.Context, items []PriorityItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	members := make([]ZMember, len(items))
	for i, it := range items {
		member, err := f.encode(it.Item)
		if err != nil {
			return 0, err
		}
		members[i] = ZMember{Member: member, Score: it.Score}
	}
	added, err := f.store().ZAdd(ctx, f.Key().String(), false, members...)
	if err != nil {
		return 0, err
	}
	return added, f.refreshQueue(ctx)
}

// PopMin removes and returns the lowest-scored item; ok=false when empty.
func (f *Queue) PopMin(ctx context.Context) (PriorityItem, bool, error) {
	return f.popOne(ctx, f.store().ZPopMin)
}

// PopMax removes and returns the highest-scored item; ok=false when empty.
func (f *Queue) PopMax(ctx context.Context) (PriorityItem, bool, error) {
	return f.popOne(ctx, f.store().ZPopMax)
}

func (f *Queue) popOne(ctx context.Context, pop func(context.Context, string, int64) ([]ZMember, error)) (PriorityItem, bool, error) {
	members, err := pop(ctx, f.Key().String(), 1)
	if err != nil {
		return PriorityItem{}, false, err
	}
	if len(members) == 0 {
		return PriorityItem{}, false, nil
	}
	if err := f.refreshQueue(ctx); err != nil {
		return f.items(members)[0], true, err
	}
	return f.items(members)[0], true, nil
}

// PopMinN removes and returns up to n lowest-scored items.
func (f *Queue) PopMinN(ctx context.Context, n int64) ([]PriorityItem, error) {
	members, err := f.store().ZPopMin(ctx, f.Key().String(), n)
	if err != nil {
		return nil, err
	}
	return f.items(members), f.refreshQueue(ctx)
}

// PopMaxN removes and returns up to n highest-scored items.
func (f *Queue) PopMaxN(ctx context.Context, n int64) ([]PriorityItem, error) {
	members, err := f.store().ZPopMax(ctx, f.Key().String(), n)
	if err != nil {
		return nil, err
	}
	return f.items(members), f.refreshQueue(ctx)
}

// PeekMin returns the lowest-scored item without removing it.
func (f *Queue) PeekMin(ctx context.Context) (PriorityItem, bool, error) {
	return f.peek(ctx, false)
}

// PeekMax returns the highest-scored item without removing it.
func (f *Queue) PeekMax(ctx context.Context) (PriorityItem, bool, error) {
	return f.peek(ctx, true)
}

func (f *Queue) peek(ctx context.Context, rev bool) (PriorityItem, bool, error) {
	members, err := f.store().ZRange(ctx, f.Key().String(), 0, 0, rev)
	if err != nil {
		return PriorityItem{}, false, err
	}
	if len(members) == 0 {
		return PriorityItem{}, false, nil
	}
	return f.items(members)[0], true, nil
}

// Range returns items by rank order; rev walks from the highest score.
func (f *Queue) Range(ctx context.Context, start, stop int64, rev bool) ([]PriorityItem, error) {
	members, err := f.store().ZRange(ctx, f.Key().String(), start, stop, rev)
	if err != nil {
		return nil, err
	}
	return f.items(members), nil
}

// RangeByScore returns items with min <= score <= max; count < 0 means all.
func (f *Queue) RangeByScore(ctx context.Context, min, max float64, offset, count int64) ([]PriorityItem, error) {
	members, err := f.store().ZRangeByScore(ctx, f.Key().String(), min, max, offset, count)
	if err != nil {
		return nil, err
	}
	return f.items(members), nil
}

// Rank returns the item's position in ascending score order; found=false when
// the item is not queued.
func (f *Queue) Rank(ctx context.Context, item any) (int64, bool, error) {
	member, err := f.encode(item)
	if err != nil {
		return 0, false, err
	}
	return f.store().ZRank(ctx, f.Key().String(), member, false)
}

// RevRank is Rank in descending score order.
func (f *Queue) RevRank(ctx context.Context, item any) (int64, bool, error) {
	member, err := f.encode(item)
	if err != nil {
		return 0, false, err
	}
	return f.store().ZRank(ctx, f.Key().String(), member, true)
}

// Score returns the item's score; found=false when the item is not queued.
func (f *Queue) Score(ctx context.Context, item any) (float64, bool, error) {
	member, err := f.encode(item)
	if err != nil {
		return 0, false, err
	}
	return f.store().ZScore(ctx, f.Key().String(), member)
}

func (f *Queue) Contains(ctx context.Context, item any) (bool, error) {
	_, found, err := f.Score(ctx, item)
	return found, err
}

// SetScore re-scores an existing item; ok=false when the item is not queued.
func (f *Queue) SetScore(ctx context.Context, item any, score float64) (bool, error) {
	member, err := f.encode(item)
	if err != nil {
		return false, err
	}
	changed, err := f.store().ZAdd(ctx, f.Key().String(), true, ZMember{Member: member, Score: score})
	if err != nil {
		return false, err
	}
	return changed > 0, f.refreshQueue(ctx)
}

// IncrScore shifts an existing item's score by delta; ok=false when the item
// is not queued (the queue is left untouched).
func (f *Queue) IncrScore(ctx context.Context, item any, delta float64) (float64, bool, error) {
	member, err := f.encode(item)
	if err != nil {
		return 0, false, err
	}
	_, found, err := f.store().ZScore(ctx, f.Key().String(), member)
	if err != nil || !found {
		return 0, false, err
	}
	score, err := f.store().ZIncrBy(ctx, f.Key().String(), delta, member)
	if err != nil {
		return 0, false, err
	}
	return score, true, f.refreshQueue(ctx)
}

// Remove drops one item regardless of score.
func (f *Queue) Remove(ctx context.Context, item any) (bool, error) {
	member, err := f.encode(item)
	if err != nil {
		return false, err
	}
	n, err := f.store().ZRem(ctx, f.Key().String(), member)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveMany drops items, returning how many were present.
func (f *Queue) RemoveMany(ctx context.Context, items ...any) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	members := make([]string, len(items))
	for i, it := range items {
		member, err := f.encode(it)
		if err != nil {
			return 0, err
		}
		members[i] = member
	}
	return f.store().ZRem(ctx, f.Key().String(), members...)
}

// Clear deletes the whole queue.
func (f *Queue) Clear(ctx context.Context) (bool, error) {
	n, err := f.store().Del(ctx, f.Key().String())
	return n > 0, err
}

func (f *Queue) Len(ctx context.Context) (int64, error) {
	return f.store().ZCard(ctx, f.Key().String())
}

func (f *Queue) Count(ctx context.Context, min, max float64) (int64, error) {
	return f.store().ZCount(ctx, f.Key().String(), min, max)
}

func (f *Queue) Exists(ctx context.Context) (bool, error) {
	return f.store().Exists(ctx, f.Key().String())
}

// refreshQueue applies the TTL policy to the derived key itself; the entries
// must not outlive the parent document.
func (f *Queue) refreshQueue(ctx context.Context) error {
	return refreshTTL(ctx, f.store(), f.Key(), f.rootSchema())
}

// syncTTL copies the parent key's remaining expiry onto the derived key.
// Called after a save so a freshly created queue inherits the document's TTL.
func (f *Queue) syncTTL(ctx context.Context) error {
	ttl, found, err := f.store().TTL(ctx, f.doc.root().Key().String())
	if err != nil || !found || ttl <= 0 {
		return err
	}
	exists, err := f.store().Exists(ctx, f.Key().String())
	if err != nil || !exists {
		return err
	}
	_, err = f.store().Expire(ctx, f.Key().String(), ttl, false)
	return err
}
