package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/atomix"
	"github.com/sharedcode/atomix/scripts"
)

type client struct {
	conn    *Connection
	isOwner bool
}

var _ atomix.Store = (*client)(nil)

var errNotOpen = fmt.Errorf("Redis connection is not open, 'can't create new client")

// NewClient wraps the singleton connection in an atomix.Store.
func NewClient() atomix.Store {
	return &client{
		conn: connection,
	}
}

// NewConnectionClient opens a dedicated connection and returns a store over
// it. Call Close when done; the singleton connection is unaffected.
func NewConnectionClient(options Options) (atomix.Store, func() error) {
	c := &client{
		conn:    openConnection(options),
		isOwner: true,
	}
	return c, c.close
}

func (c *client) close() error {
	if !c.isOwner || c.conn == nil {
		return nil
	}
	err := closeConnection(c.conn)
	c.conn = nil
	return err
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (c *client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Ping tests connectivity (PONG should be returned).
func (c *client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return errNotOpen
	}
	return c.conn.Client.Ping(ctx).Err()
}

// encodeJSON serializes a value into the literal the JSON commands expect.
func encodeJSON(v any) (string, error) {
	ba, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(ba), nil
}

// unwrapPath decodes a JSONPath reply, which arrives as a JSON array of
// matches, into its first match.
func unwrapPath(payload string) (any, bool, error) {
	var matches []any
	if err := json.Unmarshal([]byte(payload), &matches); err != nil {
		return nil, false, err
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	return matches[0], true, nil
}

func (c *client) JSONSet(ctx context.Context, key, path string, value any) error {
	if c.conn == nil {
		return errNotOpen
	}
	literal, err := encodeJSON(value)
	if err != nil {
		return err
	}
	return c.conn.Client.JSONSet(ctx, key, path, literal).Err()
}

func (c *client) JSONGet(ctx context.Context, key, path string) (any, bool, error) {
	if c.conn == nil {
		return nil, false, errNotOpen
	}
	s, err := c.conn.Client.JSONGet(ctx, key, path).Result()
	if c.keyNotFound(err) || (err == nil && s == "") {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return unwrapPath(s)
}

func (c *client) JSONMGet(ctx context.Context, path string, keys ...string) ([]any, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	vals, err := c.conn.Client.JSONMGet(ctx, path, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("JSON.MGET entry %d: unexpected %T", i, v)
		}
		entry, found, err := unwrapPath(s)
		if err != nil {
			return nil, err
		}
		if found {
			out[i] = entry
		}
	}
	return out, nil
}

func (c *client) JSONDel(ctx context.Context, key, path string) error {
	if c.conn == nil {
		return errNotOpen
	}
	err := c.conn.Client.JSONDel(ctx, key, path).Err()
	if c.keyNotFound(err) {
		return nil
	}
	return err
}

func (c *client) JSONNumIncrBy(ctx context.Context, key, path string, delta float64) (float64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	s, err := c.conn.Client.JSONNumIncrBy(ctx, key, path, delta).Result()
	if err != nil {
		return 0, err
	}
	return parseNumIncrReply(s)
}

// parseNumIncrReply decodes JSON.NUMINCRBY's reply, a JSON array of the
// post-increment values per path match.
func parseNumIncrReply(s string) (float64, error) {
	var vals []*float64
	if err := json.Unmarshal([]byte(s), &vals); err != nil {
		return 0, err
	}
	if len(vals) == 0 || vals[0] == nil {
		return 0, fmt.Errorf("JSON.NUMINCRBY matched no numeric value")
	}
	return *vals[0], nil
}

func (c *client) JSONArrAppend(ctx context.Context, key, path string, elems ...any) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	literals, err := encodeAll(elems)
	if err != nil {
		return 0, err
	}
	ns, err := c.conn.Client.JSONArrAppend(ctx, key, path, literals...).Result()
	if err != nil {
		return 0, err
	}
	return firstLen(ns)
}

func (c *client) JSONArrInsert(ctx context.Context, key, path string, index int64, elems ...any) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	literals, err := encodeAll(elems)
	if err != nil {
		return 0, err
	}
	ns, err := c.conn.Client.JSONArrInsert(ctx, key, path, index, literals...).Result()
	if err != nil {
		return 0, err
	}
	return firstLen(ns)
}

func (c *client) JSONArrPop(ctx context.Context, key, path string, index int) (any, bool, error) {
	if c.conn == nil {
		return nil, false, errNotOpen
	}
	vals, err := c.conn.Client.JSONArrPop(ctx, key, path, index).Result()
	if c.keyNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 || vals[0] == "" {
		return nil, false, nil
	}
	var out any
	if err := json.Unmarshal([]byte(vals[0]), &out); err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func encodeAll(elems []any) ([]any, error) {
	literals := make([]any, len(elems))
	for i, e := range elems {
		literal, err := encodeJSON(e)
		if err != nil {
			return nil, err
		}
		literals[i] = literal
	}
	return literals, nil
}

func firstLen(ns []int64) (int64, error) {
	if len(ns) == 0 {
		return 0, fmt.Errorf("path matched no array")
	}
	return ns[0], nil
}

// Set executes the redis Set command.
func (c *client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.conn == nil {
		return errNotOpen
	}
	if ttl < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, key, value, ttl).Err()
}

// Get executes the redis Get command.
func (c *client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", errNotOpen
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

func (c *client) Del(ctx context.Context, keys ...string) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	n, err := c.conn.Client.Del(ctx, keys...).Result()
	if c.keyNotFound(err) {
		err = nil
	}
	return n, err
}

func (c *client) Exists(ctx context.Context, key string) (bool, error) {
	if c.conn == nil {
		return false, errNotOpen
	}
	n, err := c.conn.Client.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *client) Expire(ctx context.Context, key string, ttl time.Duration, ifNoExpiry bool) (bool, error) {
	if c.conn == nil {
		return false, errNotOpen
	}
	if ifNoExpiry {
		return c.conn.Client.ExpireNX(ctx, key, ttl).Result()
	}
	return c.conn.Client.Expire(ctx, key, ttl).Result()
}

func (c *client) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if c.conn == nil {
		return 0, false, errNotOpen
	}
	d, err := c.conn.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	ttl, found := decodeTTL(d)
	return ttl, found, nil
}

// decodeTTL maps the TTL reply onto the KeyStore contract. go-redis passes
// the protocol's sentinels through unscaled: -2 is a missing key, -1 a key
// without expiry.
func decodeTTL(d time.Duration) (time.Duration, bool) {
	switch {
	case d == -2:
		return 0, false
	case d < 0:
		return 0, true
	}
	return d, true
}

func (c *client) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if c.conn == nil {
		return nil, 0, errNotOpen
	}
	return c.conn.Client.Scan(ctx, cursor, match, count).Result()
}

func toZ(members []atomix.ZMember) []redis.Z {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Member: m.Member, Score: m.Score}
	}
	return zs
}

func fromZ(zs []redis.Z) []atomix.ZMember {
	members := make([]atomix.ZMember, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		members[i] = atomix.ZMember{Member: member, Score: z.Score}
	}
	return members
}

func (c *client) ZAdd(ctx context.Context, key string, onlyUpdate bool, members ...atomix.ZMember) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	if onlyUpdate {
		return c.conn.Client.ZAddArgs(ctx, key, redis.ZAddArgs{XX: true, Ch: true, Members: toZ(members)}).Result()
	}
	return c.conn.Client.ZAdd(ctx, key, toZ(members)...).Result()
}

func (c *client) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	return c.conn.Client.ZIncrBy(ctx, key, delta, member).Result()
}

func (c *client) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.conn.Client.ZRem(ctx, key, args...).Result()
}

func (c *client) ZPopMin(ctx context.Context, key string, count int64) ([]atomix.ZMember, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	zs, err := c.conn.Client.ZPopMin(ctx, key, count).Result()
	if err != nil {
		return nil, err
	}
	return fromZ(zs), nil
}

func (c *client) ZPopMax(ctx context.Context, key string, count int64) ([]atomix.ZMember, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	zs, err := c.conn.Client.ZPopMax(ctx, key, count).Result()
	if err != nil {
		return nil, err
	}
	return fromZ(zs), nil
}

func (c *client) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]atomix.ZMember, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	var zs []redis.Z
	var err error
	if rev {
		zs, err = c.conn.Client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	} else {
		zs, err = c.conn.Client.ZRangeWithScores(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, err
	}
	return fromZ(zs), nil
}

func (c *client) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]atomix.ZMember, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	if count < 0 {
		count = -1
	}
	zs, err := c.conn.Client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:    strconv.FormatFloat(min, 'f', -1, 64),
		Max:    strconv.FormatFloat(max, 'f', -1, 64),
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	return fromZ(zs), nil
}

func (c *client) ZRank(ctx context.Context, key, member string, rev bool) (int64, bool, error) {
	if c.conn == nil {
		return 0, false, errNotOpen
	}
	var n int64
	var err error
	if rev {
		n, err = c.conn.Client.ZRevRank(ctx, key, member).Result()
	} else {
		n, err = c.conn.Client.ZRank(ctx, key, member).Result()
	}
	if c.keyNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *client) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	if c.conn == nil {
		return 0, false, errNotOpen
	}
	score, err := c.conn.Client.ZScore(ctx, key, member).Result()
	if c.keyNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (c *client) ZCard(ctx context.Context, key string) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	return c.conn.Client.ZCard(ctx, key).Result()
}

func (c *client) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	if c.conn == nil {
		return 0, errNotOpen
	}
	return c.conn.Client.ZCount(ctx, key,
		strconv.FormatFloat(min, 'f', -1, 64),
		strconv.FormatFloat(max, 'f', -1, 64)).Result()
}

func (c *client) ScriptLoad(ctx context.Context, src string) (string, error) {
	if c.conn == nil {
		return "", errNotOpen
	}
	return c.conn.Client.ScriptLoad(ctx, src).Result()
}

func (c *client) EvalSha(ctx context.Context, sha string, keys []string, args ...any) (any, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	res, err := c.conn.Client.EvalSha(ctx, sha, keys, args...).Result()
	if c.keyNotFound(err) {
		return nil, nil
	}
	return res, wrapScriptErr(err)
}

// wrapScriptErr tags NOSCRIPT failures so the registry's recovery protocol
// can recognize them.
func wrapScriptErr(err error) error {
	if err == nil {
		return nil
	}
	if redis.HasErrorPrefix(err, "NOSCRIPT") {
		return fmt.Errorf("%w: %v", scripts.ErrNoScript, err)
	}
	return err
}

// ExecTx sends the commands as one MULTI/EXEC batch. Per-command failures
// come back in the Results; the server applies the batch's other commands
// regardless, it has no rollback.
func (c *client) ExecTx(ctx context.Context, cmds []atomix.Command) ([]atomix.Result, error) {
	if c.conn == nil {
		return nil, errNotOpen
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	pipe := c.conn.Client.TxPipeline()
	queued := make([]redis.Cmder, len(cmds))
	for i, cmd := range cmds {
		cmder, err := c.queue(ctx, pipe, cmd)
		if err != nil {
			return nil, err
		}
		queued[i] = cmder
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		// Per-command failures surface on the individual cmders below; only a
		// batch with no queued outcome at all is a transport failure.
		if allUnanswered(queued) {
			return nil, err
		}
	}
	results := make([]atomix.Result, len(cmds))
	for i, cmder := range queued {
		err := cmder.Err()
		if err == redis.Nil {
			err = nil
		}
		results[i] = atomix.Result{Val: cmderValue(cmder), Err: wrapScriptErr(err)}
	}
	return results, nil
}

func allUnanswered(queued []redis.Cmder) bool {
	for _, c := range queued {
		if c.Err() == nil {
			return false
		}
	}
	return true
}

func cmderValue(cmder redis.Cmder) any {
	switch v := cmder.(type) {
	case *redis.IntCmd:
		return v.Val()
	case *redis.StatusCmd:
		return v.Val()
	case *redis.StringCmd:
		return v.Val()
	case *redis.BoolCmd:
		return v.Val()
	case *redis.FloatCmd:
		return v.Val()
	case *redis.Cmd:
		return v.Val()
	case *redis.IntSliceCmd:
		if ns := v.Val(); len(ns) > 0 {
			return ns[0]
		}
		return int64(0)
	}
	return nil
}

func (c *client) queue(ctx context.Context, pipe redis.Pipeliner, cmd atomix.Command) (redis.Cmder, error) {
	switch cmd.Kind {
	case atomix.CmdJSONSet:
		if len(cmd.Args) != 1 {
			return nil, fmt.Errorf("JSONSet wants 1 arg, got %d", len(cmd.Args))
		}
		literal, err := encodeJSON(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		return pipe.JSONSet(ctx, cmd.Key, cmd.Path, literal), nil
	case atomix.CmdJSONDel:
		return pipe.JSONDel(ctx, cmd.Key, cmd.Path), nil
	case atomix.CmdJSONNumIncrBy:
		delta, err := floatArg(cmd.Args, 0)
		if err != nil {
			return nil, err
		}
		return pipe.JSONNumIncrBy(ctx, cmd.Key, cmd.Path, delta), nil
	case atomix.CmdJSONArrAppend:
		literals, err := encodeAll(cmd.Args)
		if err != nil {
			return nil, err
		}
		return pipe.JSONArrAppend(ctx, cmd.Key, cmd.Path, literals...), nil
	case atomix.CmdJSONArrInsert:
		if len(cmd.Args) < 2 {
			return nil, fmt.Errorf("JSONArrInsert wants index plus elements")
		}
		idx, err := intArg(cmd.Args, 0)
		if err != nil {
			return nil, err
		}
		literals, err := encodeAll(cmd.Args[1:])
		if err != nil {
			return nil, err
		}
		return pipe.JSONArrInsert(ctx, cmd.Key, cmd.Path, idx, literals...), nil
	case atomix.CmdEvalSha:
		return pipe.EvalSha(ctx, cmd.Sha, []string{cmd.Key}, cmd.Args...), nil
	case atomix.CmdExpire:
		if cmd.IfNoExpiry {
			return pipe.ExpireNX(ctx, cmd.Key, cmd.TTL), nil
		}
		return pipe.Expire(ctx, cmd.Key, cmd.TTL), nil
	case atomix.CmdDel:
		keys := []string{cmd.Key}
		for _, a := range cmd.Args {
			k, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("Del wants string keys, got %T", a)
			}
			keys = append(keys, k)
		}
		return pipe.Del(ctx, keys...), nil
	case atomix.CmdZAdd:
		members, err := zMemberArgs(cmd.Args)
		if err != nil {
			return nil, err
		}
		return pipe.ZAdd(ctx, cmd.Key, toZ(members)...), nil
	case atomix.CmdZIncrBy:
		if len(cmd.Args) != 2 {
			return nil, fmt.Errorf("ZIncrBy wants (delta, member)")
		}
		delta, err := floatArg(cmd.Args, 0)
		if err != nil {
			return nil, err
		}
		member, ok := cmd.Args[1].(string)
		if !ok {
			return nil, fmt.Errorf("ZIncrBy wants string member, got %T", cmd.Args[1])
		}
		return pipe.ZIncrBy(ctx, cmd.Key, delta, member), nil
	case atomix.CmdZRem:
		return pipe.ZRem(ctx, cmd.Key, cmd.Args...), nil
	}
	return nil, fmt.Errorf("unsupported command kind %d", cmd.Kind)
}

func floatArg(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("argument %d: want number, got %T", i, args[i])
}

func intArg(args []any, i int) (int64, error) {
	f, err := floatArg(args, i)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func zMemberArgs(args []any) ([]atomix.ZMember, error) {
	members := make([]atomix.ZMember, len(args))
	for i, a := range args {
		m, ok := a.(atomix.ZMember)
		if !ok {
			return nil, fmt.Errorf("ZAdd wants ZMember args, got %T", a)
		}
		members[i] = m
	}
	return members, nil
}
