package atomix

import (
	"context"
	"encoding/json"
)

// fieldRef is the weak back-reference every wrapper carries to its parent
// document. It is established at construction and at every re-assignment of
// a field, never used to extend the parent's lifetime, and exists only to
// resolve the wrapper's key/path and to detect an open transaction.
type fieldRef struct {
	doc  *Document
	name string
}

func (r fieldRef) key() Key {
	return r.doc.Key()
}

func (r fieldRef) path() string {
	return r.doc.path() + "." + r.name
}

func (r fieldRef) jsonPath() string {
	return jsonPath(r.path())
}

func (r fieldRef) store() Store {
	return r.doc.db.store
}

func (r fieldRef) rootSchema() *Schema {
	return r.doc.root().schema
}

func (r fieldRef) txn(ctx context.Context) *Txn {
	return txnFrom(ctx)
}

// refresh applies the TTL policy after a successful remote operation.
func (r fieldRef) refresh(ctx context.Context) error {
	return refreshTTL(ctx, r.store(), r.key(), r.rootSchema())
}

// bufferCmd records a deferred command on the active transaction, marking
// the owning document's key for a TTL refresh at flush.
func (r fieldRef) bufferCmd(t *Txn, cmd Command) {
	t.enqueue(cmd)
	t.touch(r.key(), r.rootSchema())
}

// bufferScript records a deferred script invocation by logical name; the
// handle is resolved at flush time.
func (r fieldRef) bufferScript(t *Txn, name string, args ...any) {
	r.bufferCmd(t, Command{
		Kind:   CmdEvalSha,
		Script: name,
		Key:    r.key().String(),
		Args:   append([]any{r.jsonPath()}, args...),
	})
}

// scriptResult decodes a script's JSON-encoded reply. present=false mirrors
// the script returning nil (target absent).
func scriptResult(res any) (any, bool, error) {
	switch v := res.(type) {
	case nil:
		return nil, false, nil
	case string:
		var out any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, false, newError(Corrupt, "undecodable script reply %q: %v", v, err)
		}
		return out, true, nil
	case []byte:
		return scriptResult(string(v))
	}
	return res, true, nil
}
