package atomix

import "time"

// FieldSpec declares one field of a document type.
type FieldSpec struct {
	Name string
	Kind FieldKind
	// Elem is the element kind for KindList and KindMap fields. Defaults to
	// KindAny when left unset.
	Elem FieldKind
	// Sub is the nested schema for KindDoc fields.
	Sub *Schema
	// SafeLoad selects the tolerant load policy for this field: a value that
	// cannot be reconstructed is nulled out and recorded in the document's
	// failed-fields set instead of aborting the read.
	SafeLoad bool
	// Indexed marks the field for the secondary index layer. Only scalar
	// kinds with a query representation may be indexed.
	Indexed bool
}

// Schema describes a document type: its key prefix, TTL configuration and
// field list. It is the boundary with the declarative object-model layer,
// which supplies one Schema per user-defined type.
type Schema struct {
	// Name is the type name and key prefix.
	Name string
	// TTL is the expiry attached to the type; zero means documents never expire.
	TTL time.Duration
	// RefreshTTL, when true, resets the remaining TTL on every successful
	// read or write. When false the expiry is set once on first save and
	// counts down monotonically.
	RefreshTTL bool
	// SafeLoadAll applies the tolerant load policy to every field.
	SafeLoadAll bool

	Fields []FieldSpec

	byName map[string]*FieldSpec
}

// Field looks up a field spec by name.
func (s *Schema) Field(name string) (*FieldSpec, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// refreshOnAccess reports whether reads/writes of this type reset its TTL.
func (s *Schema) refreshOnAccess() bool {
	return s.RefreshTTL && s.TTL > 0
}

// tolerant reports whether the named field loads under the tolerant policy.
func (s *Schema) tolerant(field string) bool {
	if s.SafeLoadAll {
		return true
	}
	f, ok := s.byName[field]
	return ok && f.SafeLoad
}

// queueFields returns the names of the schema's priority-queue fields,
// whose data lives in derived sorted-set keys.
func (s *Schema) queueFields() []string {
	var names []string
	for i := range s.Fields {
		if s.Fields[i].Kind == KindQueue {
			names = append(names, s.Fields[i].Name)
		}
	}
	return names
}

// resolve validates the schema and builds its field lookup table. Called
// once at registration; nested schemas are resolved recursively.
func (s *Schema) resolve() error {
	if s.Name == "" {
		return newError(BadArgument, "schema has no type name")
	}
	s.byName = make(map[string]*FieldSpec, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return newError(BadArgument, "schema %s: field %d has no name", s.Name, i)
		}
		if _, dup := s.byName[f.Name]; dup {
			return newError(BadArgument, "schema %s: duplicate field %s", s.Name, f.Name)
		}
		switch f.Kind {
		case KindList, KindMap:
			if f.Elem == KindInvalid {
				f.Elem = KindAny
			}
			if !f.Elem.scalar() {
				return newError(BadArgument, "schema %s: field %s has non-scalar element kind %s", s.Name, f.Name, f.Elem)
			}
		case KindQueue:
			if f.Elem == KindInvalid {
				f.Elem = KindAny
			}
		case KindDoc:
			if f.Sub == nil {
				return newError(BadArgument, "schema %s: nested field %s has no sub-schema", s.Name, f.Name)
			}
			if err := f.Sub.resolve(); err != nil {
				return err
			}
		case KindInt, KindFloat, KindString, KindBytes, KindTime, KindTimestamp, KindAny:
		default:
			return newError(BadArgument, "schema %s: field %s has invalid kind", s.Name, f.Name)
		}
		if f.Indexed && !f.Kind.indexable() {
			return newError(UnsupportedIndexField,
				"schema %s: field %s of kind %s cannot be indexed", s.Name, f.Name, f.Kind)
		}
		s.byName[f.Name] = f
	}
	return nil
}
