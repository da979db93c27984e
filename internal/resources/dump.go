package resources

import (
	"encoding/json"
)

// Dump serializes a record for a response. Relation fields collapse to bare
// id strings unless nested output was requested, in which case exclusively
// owned collections are embedded in full. Single parent/linked references
// always collapse.
func (e *Engine) Dump(spec *Spec, rec Record, nested bool) (map[string]interface{}, error) {
	m, err := toMap(rec)
	if err != nil {
		return nil, err
	}
	for name, f := range spec.Fields {
		if f.Assoc == "" {
			continue
		}
		raw, ok := m[name]
		if !ok || raw == nil {
			continue
		}
		if !f.Many {
			if child, ok := raw.(map[string]interface{}); ok {
				m[name] = child["id"]
			}
			continue
		}
		items, ok := raw.([]interface{})
		if !ok {
			continue
		}
		if nested && f.Rel == RelNested {
			// embedded children still collapse their own references
			if f.Target != "" {
				if childSpec, err := e.reg.Get(f.Target); err == nil {
					for _, it := range items {
						child, ok := it.(map[string]interface{})
						if !ok {
							continue
						}
						collapseRefs(childSpec, child)
					}
				}
			}
			continue
		}
		ids := make([]interface{}, 0, len(items))
		for _, it := range items {
			if child, ok := it.(map[string]interface{}); ok {
				if id, ok := child["id"]; ok {
					ids = append(ids, id)
					continue
				}
			}
			ids = append(ids, it)
		}
		m[name] = ids
	}
	return m, nil
}

func collapseRefs(spec *Spec, m map[string]interface{}) {
	for name, f := range spec.Fields {
		if f.Assoc == "" || f.Many {
			continue
		}
		if child, ok := m[name].(map[string]interface{}); ok {
			m[name] = child["id"]
		}
	}
}

// cloneDump builds a write payload that re-creates rec under a new identity.
// Owned nested children are embedded without their keys so the upsert mints
// fresh ids; shared members and linked references stay id-only so the copy
// points at the same rows.
func (e *Engine) cloneDump(spec *Spec, rec Record) (map[string]interface{}, error) {
	m, err := toMap(rec)
	if err != nil {
		return nil, err
	}
	e.cloneScrub(spec, m)
	return m, nil
}

func (e *Engine) cloneScrub(spec *Spec, m map[string]interface{}) {
	for _, k := range []string{"id", "user_id", "user", "created_at", "updated_at"} {
		delete(m, k)
	}
	for name, f := range spec.Fields {
		raw, ok := m[name]
		if !ok || raw == nil {
			continue
		}
		byReference := f.Rel != RelNested || f.Shared
		var childSpec *Spec
		if f.Target != "" {
			childSpec, _ = e.reg.Get(f.Target)
		}
		scrubOne := func(v interface{}) interface{} {
			child, ok := v.(map[string]interface{})
			if !ok {
				return v
			}
			if byReference {
				return map[string]interface{}{"id": child["id"]}
			}
			if childSpec != nil {
				e.cloneScrub(childSpec, child)
			}
			return child
		}
		if f.Many {
			if items, ok := raw.([]interface{}); ok {
				for i, it := range items {
					items[i] = scrubOne(it)
				}
			}
			continue
		}
		if byReference {
			// single references may already be collapsed to an id string
			if _, isMap := raw.(map[string]interface{}); !isMap {
				continue
			}
		}
		m[name] = scrubOne(raw)
	}
}

func toMap(rec Record) (map[string]interface{}, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
