package atomix

import (
	log "log/slog"
	"time"
)

// load reconstructs the document's local state from a decoded wire payload,
// applying the schema's load policy. Under the tolerant policy a field or
// element that cannot be reconstructed is zeroed and recorded in the
// failed-fields set; under the strict policy it aborts the load with a
// Corrupt error.
func (d *Document) load(raw any) error {
	obj, ok := raw.(map[string]any)
	if !ok {
		return newError(Corrupt, "document %s: payload is %T, not an object", d.Key(), raw)
	}
	d.failed = map[string]struct{}{}
	for i := range d.schema.Fields {
		spec := &d.schema.Fields[i]
		if spec.Kind == KindQueue {
			continue
		}
		rv, present := obj[spec.Name]
		if !present || rv == nil {
			d.resetField(spec)
			continue
		}
		if err := d.loadField(spec, rv); err != nil {
			if !d.schema.tolerant(spec.Name) {
				return err
			}
			d.resetField(spec)
			d.failed[spec.Name] = struct{}{}
			log.Warn("dropped undecodable field on tolerant load",
				"key", d.Key().String(), "field", spec.Name, "error", err)
		}
	}
	return nil
}

func (d *Document) loadField(spec *FieldSpec, raw any) error {
	tolerant := d.schema.tolerant(spec.Name)
	record := func(pos string) {
		d.failed[pos] = struct{}{}
		log.Warn("skipped undecodable element on tolerant load",
			"key", d.Key().String(), "position", pos)
	}
	switch f := d.fields[spec.Name].(type) {
	case *List:
		return f.loadRaw(raw, tolerant, record)
	case *Map:
		return f.loadRaw(raw, tolerant, record)
	case *Document:
		if err := f.load(raw); err != nil {
			return err
		}
		for pos := range f.failed {
			d.failed[spec.Name+"."+pos] = struct{}{}
		}
		return nil
	case interface{ loadRaw(raw any) error }:
		return f.loadRaw(raw)
	}
	return newError(Corrupt, "field %s has no loadable representation", spec.Name)
}

// resetField restores a field wrapper to its zero value.
func (d *Document) resetField(spec *FieldSpec) {
	switch f := d.fields[spec.Name].(type) {
	case *Int:
		f.v = 0
	case *Float:
		f.v = 0
	case *Str:
		f.v = ""
	case *Bytes:
		f.v = nil
	case *Time:
		f.v = time.Time{}
	case *Timestamp:
		f.v = time.Time{}
	case *List:
		f.v = nil
	case *Map:
		f.v = map[string]any{}
	case *Document:
		for i := range f.schema.Fields {
			f.resetField(&f.schema.Fields[i])
		}
		f.failed = nil
	}
}
