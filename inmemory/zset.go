package inmemory

import (
	"context"
	"sort"

	"github.com/sharedcode/atomix"
)

// Sorted-set commands. Entries live in a member->score map; rank queries
// sort on demand by (score, member), matching the server's ordering.

func (s *MemStore) zsetFor(key string, create bool) *entry {
	e := s.live(key)
	if e != nil && e.kind == kindZSet {
		return e
	}
	if e != nil || !create {
		return nil
	}
	e = &entry{kind: kindZSet, zset: map[string]float64{}}
	s.entries[key] = e
	return e
}

func (s *MemStore) sortedMembers(e *entry, rev bool) []atomix.ZMember {
	members := make([]atomix.ZMember, 0, len(e.zset))
	for m, score := range e.zset {
		members = append(members, atomix.ZMember{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			if rev {
				return members[i].Score > members[j].Score
			}
			return members[i].Score < members[j].Score
		}
		if rev {
			return members[i].Member > members[j].Member
		}
		return members[i].Member < members[j].Member
	})
	return members
}

func (s *MemStore) ZAdd(ctx context.Context, key string, onlyUpdate bool, members ...atomix.ZMember) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zadd(key, onlyUpdate, members), nil
}

func (s *MemStore) zadd(key string, onlyUpdate bool, members []atomix.ZMember) int64 {
	e := s.zsetFor(key, !onlyUpdate)
	if e == nil {
		return 0
	}
	var n int64
	for _, m := range members {
		old, exists := e.zset[m.Member]
		if onlyUpdate {
			if exists && old != m.Score {
				e.zset[m.Member] = m.Score
				n++
			}
			continue
		}
		if !exists {
			n++
		}
		e.zset[m.Member] = m.Score
	}
	return n
}

func (s *MemStore) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zincrBy(key, delta, member), nil
}

func (s *MemStore) zincrBy(key string, delta float64, member string) float64 {
	e := s.zsetFor(key, true)
	e.zset[member] += delta
	return e.zset[member]
}

func (s *MemStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zrem(key, members), nil
}

func (s *MemStore) zrem(key string, members []string) int64 {
	e := s.zsetFor(key, false)
	if e == nil {
		return 0
	}
	var n int64
	for _, m := range members {
		if _, ok := e.zset[m]; ok {
			delete(e.zset, m)
			n++
		}
	}
	if len(e.zset) == 0 {
		delete(s.entries, key)
	}
	return n
}

func (s *MemStore) ZPopMin(ctx context.Context, key string, count int64) ([]atomix.ZMember, error) {
	return s.pop(key, count, false)
}

func (s *MemStore) ZPopMax(ctx context.Context, key string, count int64) ([]atomix.ZMember, error) {
	return s.pop(key, count, true)
}

func (s *MemStore) pop(key string, count int64, rev bool) ([]atomix.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil || count <= 0 {
		return nil, nil
	}
	members := s.sortedMembers(e, rev)
	if int64(len(members)) > count {
		members = members[:count]
	}
	for _, m := range members {
		delete(e.zset, m.Member)
	}
	if len(e.zset) == 0 {
		delete(s.entries, key)
	}
	return members, nil
}

func (s *MemStore) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]atomix.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil {
		return nil, nil
	}
	members := s.sortedMembers(e, rev)
	n := int64(len(members))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return members[start : stop+1], nil
}

func (s *MemStore) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]atomix.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil {
		return nil, nil
	}
	var out []atomix.ZMember
	for _, m := range s.sortedMembers(e, false) {
		if m.Score < min || m.Score > max {
			continue
		}
		out = append(out, m)
	}
	if offset >= int64(len(out)) {
		return nil, nil
	}
	out = out[offset:]
	if count >= 0 && int64(len(out)) > count {
		out = out[:count]
	}
	return out, nil
}

func (s *MemStore) ZRank(ctx context.Context, key, member string, rev bool) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil {
		return 0, false, nil
	}
	for i, m := range s.sortedMembers(e, rev) {
		if m.Member == member {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (s *MemStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil {
		return 0, false, nil
	}
	score, ok := e.zset[member]
	return score, ok, nil
}

func (s *MemStore) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.zset)), nil
}

func (s *MemStore) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.zsetFor(key, false)
	if e == nil {
		return 0, nil
	}
	var n int64
	for _, score := range e.zset {
		if score >= min && score <= max {
			n++
		}
	}
	return n, nil
}
