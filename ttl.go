package atomix

import "context"

// refreshTTL resets the key's remaining expiry when the schema's policy asks
// for it. Fetches, saves, immediate mutations and flushed transactions all
// funnel through here, so under RefreshTTL a document stays alive as long as
// it is touched.
func refreshTTL(ctx context.Context, store KeyStore, key Key, s *Schema) error {
	if !s.refreshOnAccess() {
		return nil
	}
	_, err := store.Expire(ctx, key.String(), s.TTL, false)
	return err
}

// applySaveTTL attaches the schema's expiry after a save. Without RefreshTTL
// the expiry is set only on keys that have none yet, so it counts down
// monotonically from the first save.
func applySaveTTL(ctx context.Context, store KeyStore, key Key, s *Schema) error {
	if s.TTL <= 0 {
		return nil
	}
	_, err := store.Expire(ctx, key.String(), s.TTL, !s.RefreshTTL)
	return err
}
