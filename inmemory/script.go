package inmemory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sharedcode/atomix"
	"github.com/sharedcode/atomix/scripts"
)

// The script engine: bodies are recognized against the catalog at load time
// and invocations dispatch to equivalent Go implementations, all under the
// store mutex so a script observes and mutates state atomically.

func (s *MemStore) ScriptLoad(ctx context.Context, src string) (string, error) {
	name := ""
	for _, n := range scripts.Names() {
		if known, _ := scripts.Source(n); known == src {
			name = n
			break
		}
	}
	if name == "" {
		return "", fmt.Errorf("unrecognized script body")
	}
	sum := sha1.Sum([]byte(src))
	sha := hex.EncodeToString(sum[:])
	s.mu.Lock()
	s.loaded[sha] = name
	s.mu.Unlock()
	return sha, nil
}

func (s *MemStore) EvalSha(ctx context.Context, sha string, keys []string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evalSha(sha, keys, args)
}

func (s *MemStore) evalSha(sha string, keys []string, args []any) (any, error) {
	if s.failEval {
		return nil, fmt.Errorf("%w: NOSCRIPT forced by test knob", scripts.ErrNoScript)
	}
	name, ok := s.loaded[sha]
	if !ok {
		return nil, fmt.Errorf("%w: NOSCRIPT no matching script for %s", scripts.ErrNoScript, sha)
	}
	if len(keys) != 1 || len(args) < 1 {
		return nil, fmt.Errorf("script %s: want one key and a path argument", name)
	}
	key := keys[0]
	path, err := argString(args[0])
	if err != nil {
		return nil, err
	}
	rest := args[1:]

	switch name {
	case scripts.RemoveRange:
		return s.scriptRemoveRange(key, path, rest)
	case scripts.NumMul, scripts.NumFloorDiv, scripts.NumMod, scripts.NumPow, scripts.NumTrueDiv:
		return s.scriptNumeric(name, key, path, rest)
	case scripts.StrAppend:
		return s.scriptStrAppend(key, path, rest)
	case scripts.StrMul:
		return s.scriptStrMul(key, path, rest)
	case scripts.DictPop:
		return s.scriptDictPop(key, path, rest)
	case scripts.DictPopItem:
		return s.scriptDictPopItem(key, path)
	}
	return nil, fmt.Errorf("script %s: no implementation", name)
}

func (s *MemStore) scriptRemoveRange(key, path string, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("remove range wants (start, end)")
	}
	start, err := argInt(args[0])
	if err != nil {
		return nil, err
	}
	end, err := argInt(args[1])
	if err != nil {
		return nil, err
	}
	arr, e, segs, err := s.arrayAt(key, path)
	if err != nil {
		return nil, nil
	}
	n := len(arr)
	if start < 0 {
		start = n + start
	}
	if end < 0 {
		end = n + end
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= n || start >= end {
		return int64(1), nil
	}
	arr = append(arr[:start], arr[end:]...)
	if _, err := setAt(e.doc, segs, arr); err != nil {
		return nil, err
	}
	return int64(1), nil
}

func (s *MemStore) scriptNumeric(name, key, path string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("numeric script wants one operand")
	}
	operand, err := argFloat(args[0])
	if err != nil {
		return nil, err
	}
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return nil, nil
	}
	cur, found := resolve(e.doc, segs)
	if !found {
		return nil, nil
	}
	value, ok := cur.(float64)
	if !ok {
		return nil, fmt.Errorf("value at %s is not a number", path)
	}
	var result float64
	switch name {
	case scripts.NumMul:
		result = value * operand
	case scripts.NumFloorDiv:
		result = math.Floor(value / operand)
	case scripts.NumMod:
		// Floored remainder, as the scripting runtime computes it.
		result = value - math.Floor(value/operand)*operand
	case scripts.NumPow:
		result = math.Pow(value, operand)
	case scripts.NumTrueDiv:
		result = value / operand
	}
	if _, err := setAt(e.doc, segs, result); err != nil {
		return nil, err
	}
	return strconv.FormatFloat(result, 'g', -1, 64), nil
}

func (s *MemStore) scriptStrAppend(key, path string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("append wants one suffix")
	}
	suffix, err := argString(args[0])
	if err != nil {
		return nil, err
	}
	value, e, segs, found, err := s.stringAt(key, path)
	if err != nil || !found {
		return nil, err
	}
	result := value + suffix
	if _, err := setAt(e.doc, segs, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *MemStore) scriptStrMul(key, path string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("repeat wants one count")
	}
	count, err := argInt(args[0])
	if err != nil {
		return nil, err
	}
	value, e, segs, found, err := s.stringAt(key, path)
	if err != nil || !found {
		return nil, err
	}
	result := ""
	if count > 0 {
		result = strings.Repeat(value, count)
	}
	if _, err := setAt(e.doc, segs, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *MemStore) scriptDictPop(key, path string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("pop wants one member key")
	}
	member, err := argString(args[0])
	if err != nil {
		return nil, err
	}
	segs, err := parsePath(path + "." + member)
	if err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return nil, nil
	}
	value, found := resolve(e.doc, segs)
	if !found {
		return nil, nil
	}
	if _, _, err := delAt(e.doc, segs); err != nil {
		return nil, err
	}
	ba, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(ba), nil
}

func (s *MemStore) scriptDictPopItem(key, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return nil, nil
	}
	cur, found := resolve(e.doc, segs)
	if !found {
		return nil, nil
	}
	obj, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value at %s is not an object", path)
	}
	if len(obj) == 0 {
		return nil, nil
	}
	// Arbitrary member, deterministic here for test stability.
	first := ""
	for k := range obj {
		if first == "" || k < first {
			first = k
		}
	}
	value := obj[first]
	delete(obj, first)
	ba, err := json.Marshal([]any{first, value})
	if err != nil {
		return nil, err
	}
	return string(ba), nil
}

func (s *MemStore) stringAt(key, path string) (string, *entry, []pathSeg, bool, error) {
	segs, err := parsePath(path)
	if err != nil {
		return "", nil, nil, false, err
	}
	e := s.live(key)
	if e == nil || e.kind != kindDoc {
		return "", nil, nil, false, nil
	}
	cur, found := resolve(e.doc, segs)
	if !found {
		return "", nil, nil, false, nil
	}
	value, ok := cur.(string)
	if !ok {
		return "", nil, nil, false, fmt.Errorf("value at %s is not a string", path)
	}
	return value, e, segs, true, nil
}

func argString(a any) (string, error) {
	switch v := a.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int64, float64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("want string argument, got %T", a)
}

func argFloat(a any) (float64, error) {
	switch v := a.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("want numeric argument, got %T", a)
}

func argInt(a any) (int, error) {
	f, err := argFloat(a)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ExecTx applies the commands in order under one lock hold. Per-command
// failures land in the Results and do not stop the batch: the production
// store has no rollback, and the transaction layer's recovery protocol
// depends on that.
func (s *MemStore) ExecTx(ctx context.Context, cmds []atomix.Command) ([]atomix.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]atomix.Result, len(cmds))
	for i, cmd := range cmds {
		val, err := s.apply(cmd)
		results[i] = atomix.Result{Val: val, Err: err}
	}
	return results, nil
}

func (s *MemStore) apply(cmd atomix.Command) (any, error) {
	switch cmd.Kind {
	case atomix.CmdJSONSet:
		if len(cmd.Args) != 1 {
			return nil, fmt.Errorf("JSONSet wants 1 arg, got %d", len(cmd.Args))
		}
		return s.jsonSet(cmd.Key, cmd.Path, cmd.Args[0])
	case atomix.CmdJSONDel:
		return s.jsonDel(cmd.Key, cmd.Path)
	case atomix.CmdJSONNumIncrBy:
		if len(cmd.Args) != 1 {
			return nil, fmt.Errorf("NumIncrBy wants 1 arg")
		}
		delta, err := argFloat(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		return s.numIncrBy(cmd.Key, cmd.Path, delta)
	case atomix.CmdJSONArrAppend:
		return s.arrAppend(cmd.Key, cmd.Path, cmd.Args)
	case atomix.CmdJSONArrInsert:
		if len(cmd.Args) < 2 {
			return nil, fmt.Errorf("ArrInsert wants index plus elements")
		}
		idx, err := argInt(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		return s.arrInsert(cmd.Key, cmd.Path, int64(idx), cmd.Args[1:])
	case atomix.CmdEvalSha:
		return s.evalSha(cmd.Sha, []string{cmd.Key}, cmd.Args)
	case atomix.CmdExpire:
		return s.expire(cmd.Key, cmd.TTL, cmd.IfNoExpiry), nil
	case atomix.CmdDel:
		keys := []string{cmd.Key}
		for _, a := range cmd.Args {
			k, err := argString(a)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return s.del(keys), nil
	case atomix.CmdZAdd:
		members := make([]atomix.ZMember, 0, len(cmd.Args))
		for _, a := range cmd.Args {
			m, ok := a.(atomix.ZMember)
			if !ok {
				return nil, fmt.Errorf("ZAdd wants ZMember args, got %T", a)
			}
			members = append(members, m)
		}
		return s.zadd(cmd.Key, false, members), nil
	case atomix.CmdZIncrBy:
		if len(cmd.Args) != 2 {
			return nil, fmt.Errorf("ZIncrBy wants (delta, member)")
		}
		delta, err := argFloat(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		member, err := argString(cmd.Args[1])
		if err != nil {
			return nil, err
		}
		return s.zincrBy(cmd.Key, delta, member), nil
	case atomix.CmdZRem:
		members := make([]string, 0, len(cmd.Args))
		for _, a := range cmd.Args {
			m, err := argString(a)
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		return s.zrem(cmd.Key, members), nil
	}
	return nil, fmt.Errorf("unsupported command kind %d", cmd.Kind)
}
