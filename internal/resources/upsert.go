package resources

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// Engine is the registry-driven resource engine: one implementation of
// create-or-update, list/search, dump and clone shared by every entity kind.
type Engine struct {
	db  *gorm.DB
	log *logger.Logger
	reg *Registry
}

func NewEngine(db *gorm.DB, log *logger.Logger, reg *Registry) *Engine {
	return &Engine{db: db, log: log.With("service", "ResourceEngine"), reg: reg}
}

func (e *Engine) Registry() *Registry { return e.reg }

func (e *Engine) DB() *gorm.DB { return e.db }

// pseudo-fields a payload can never set directly.
func isReservedField(k string) bool {
	switch k {
	case "id", "user", "user_id", "created_at", "updated_at":
		return true
	default:
		return false
	}
}

// UpdateOrCreate walks payload against the entity graph inside one
// transaction: everything the walk touches commits together or not at all.
// principal must be non-nil; anonymous mutation attempts are rejected before
// any work happens.
func (e *Engine) UpdateOrCreate(ctx context.Context, principal *types.User, kind Kind, payload map[string]interface{}, id string) (Record, error) {
	if principal == nil {
		return nil, apierr.Unauthorized("authentication required")
	}
	spec, err := e.reg.Get(kind)
	if err != nil {
		return nil, apierr.Unprocessable("%v", err)
	}
	var root Record
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, uErr := e.upsert(tx, principal, spec, payload, id)
		if uErr != nil {
			return uErr
		}
		root = rec
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return root, nil
}

func payloadID(payload map[string]interface{}) string {
	if v, ok := payload["id"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// onlyID reports whether payload carries nothing beyond an id: the
// attach-by-reference shorthand.
func onlyID(payload map[string]interface{}) bool {
	for k := range payload {
		if k != "id" {
			return false
		}
	}
	return true
}

func (e *Engine) upsert(tx *gorm.DB, principal *types.User, spec *Spec, payload map[string]interface{}, id string) (Record, error) {
	if id == "" {
		id = payloadID(payload)
	}
	id = SanitizeID(id)

	rec := spec.New()
	ident, hasID := rec.(identifiable)
	created := false

	switch {
	case !hasID || id == "":
		// create path: assign a fresh id and claim ownership
		if hasID {
			ident.SetRecordID(types.NewID())
		}
		if own, ok := rec.(ownable); ok {
			own.SetOwnerID(principal.ExternalID)
		}
		created = true
	default:
		err := tx.Where("id = ?", id).First(rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !spec.Reference {
				return nil, apierr.Unprocessable("%s %q does not exist", spec.Kind, id)
			}
			// reference kinds are materialized with exactly the
			// externally minted id
			ident.SetRecordID(id)
			created = true
		case err != nil:
			return nil, err
		default:
			if onlyID(payload) {
				// attach-by-reference: include the record untouched,
				// updated_at stays put
				return rec, nil
			}
			if own, ok := rec.(ownable); ok {
				owner := own.OwnerID()
				if owner == nil || *owner != principal.ExternalID {
					return nil, apierr.Forbidden("user %s cannot change record owned by another user", principal.ExternalID)
				}
			}
		}
	}

	if created && spec.HasPublic {
		// visibility defaults apply before the payload is decoded, so an
		// explicit "public": false survives
		if f := reflect.ValueOf(rec).Elem().FieldByName("Public"); f.IsValid() && f.Kind() == reflect.Bool {
			f.SetBool(spec.DefaultPublic)
		}
	}

	scalars := make(map[string]interface{})
	type nestedWork struct {
		field string
		fs    FieldSpec
		items []map[string]interface{}
	}
	var nested []nestedWork

	for k, v := range payload {
		if isReservedField(k) {
			continue
		}
		fs, isRel := spec.Fields[k]
		if !isRel {
			scalars[k] = v
			continue
		}
		if v == nil {
			continue
		}
		switch fs.Rel {
		case RelParent:
			target, err := e.resolveRef(tx, fs.Target, v)
			if err != nil {
				return nil, err
			}
			if own, ok := target.(ownable); ok {
				owner := own.OwnerID()
				if owner == nil || *owner != principal.ExternalID {
					return nil, apierr.Forbidden("cannot attach under a %s owned by another user", fs.Target)
				}
			}
			if err := fs.Attach(tx, rec, []Record{target}); err != nil {
				return nil, err
			}
		case RelLinked:
			target, err := e.resolveRef(tx, fs.Target, v)
			if err != nil {
				return nil, err
			}
			if err := fs.Attach(tx, rec, []Record{target}); err != nil {
				return nil, err
			}
		case RelNested:
			items, err := nestedItems(v)
			if err != nil {
				return nil, apierr.Unprocessable("field %q of %s: %v", k, spec.Kind, err)
			}
			nested = append(nested, nestedWork{field: k, fs: fs, items: items})
		}
	}

	if err := decodeScalars(scalars, rec, spec); err != nil {
		return nil, err
	}

	if !spec.SaveInAttach {
		if err := e.save(tx, rec, spec, created); err != nil {
			return nil, err
		}
	}

	for _, nw := range nested {
		children := make([]Record, 0, len(nw.items))
		childSpec, err := e.reg.Get(nw.fs.Target)
		if err != nil {
			return nil, apierr.Unprocessable("%v", err)
		}
		for _, item := range nw.items {
			child, cErr := e.upsert(tx, principal, childSpec, item, "")
			if cErr != nil {
				return nil, cErr
			}
			children = append(children, child)
		}
		if err := nw.fs.Attach(tx, rec, children); err != nil {
			return nil, err
		}
		if hook, ok := spec.OnReplace[nw.field]; ok && hook != nil {
			if err := hook(tx, rec, children); err != nil {
				return nil, err
			}
		}
	}

	if spec.BeforeCommit != nil {
		if err := spec.BeforeCommit(tx, rec, created); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func (e *Engine) save(tx *gorm.DB, rec Record, spec *Spec, created bool) error {
	if created {
		if err := tx.Omit(clause.Associations).Create(rec).Error; err != nil {
			return err
		}
		return nil
	}
	return tx.Omit(clause.Associations).Save(rec).Error
}

// nestedItems normalizes a nested payload value into a list of maps. A bare
// string is treated as an id reference.
func nestedItems(v interface{}) ([]map[string]interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{t}, nil
	case string:
		return []map[string]interface{}{{"id": t}}, nil
	case []interface{}:
		items := make([]map[string]interface{}, 0, len(t))
		for _, el := range t {
			switch et := el.(type) {
			case map[string]interface{}:
				items = append(items, et)
			case string:
				items = append(items, map[string]interface{}{"id": et})
			default:
				return nil, errors.New("nested payloads must be objects or id strings")
			}
		}
		return items, nil
	default:
		return nil, errors.New("nested payloads must be objects or id strings")
	}
}

// resolveRef loads a referenced record by id, bare id string, or composite
// key tuple when the target kind declares one. Missing references are a
// client error, never silently created.
func (e *Engine) resolveRef(tx *gorm.DB, kind Kind, v interface{}) (Record, error) {
	spec, err := e.reg.Get(kind)
	if err != nil {
		return nil, apierr.Unprocessable("%v", err)
	}
	rec := spec.New()

	ref, isMap := v.(map[string]interface{})
	if !isMap {
		if s, ok := v.(string); ok {
			ref = map[string]interface{}{"id": s}
		} else {
			return nil, apierr.Unprocessable("reference to %s must be an object or id string", kind)
		}
	}

	if len(spec.CompositeKey) > 0 && payloadID(ref) == "" {
		where := make(map[string]interface{}, len(spec.CompositeKey))
		for _, col := range spec.CompositeKey {
			val, err := compositeKeyValue(ref, col)
			if err != nil {
				return nil, apierr.Unprocessable("reference to %s: %v", kind, err)
			}
			where[col] = val
		}
		if err := tx.Where(where).First(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apierr.Unprocessable("referenced %s does not exist", kind)
			}
			return nil, err
		}
		return rec, nil
	}

	id := SanitizeID(payloadID(ref))
	if id == "" {
		return nil, apierr.Unprocessable("reference to %s is missing an id", kind)
	}
	if err := tx.Where("id = ?", id).First(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.Unprocessable("referenced %s %q does not exist", kind, id)
		}
		return nil, err
	}
	return rec, nil
}

// compositeKeyValue digs the value for one composite key column out of a
// reference payload: either the column itself ("study_id": "X") or the named
// relation form ("study": {"id": "X"}).
func compositeKeyValue(ref map[string]interface{}, col string) (interface{}, error) {
	if v, ok := ref[col]; ok && v != nil {
		return v, nil
	}
	name := col
	if len(col) > 3 && col[len(col)-3:] == "_id" {
		name = col[:len(col)-3]
	}
	if obj, ok := ref[name].(map[string]interface{}); ok {
		if id, ok := obj["id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return nil, errors.New("missing composite key column " + col)
}

// decodeScalars assigns the remaining payload fields onto rec by json tag.
// Unknown fields are a validation failure rather than silently dropped.
func decodeScalars(scalars map[string]interface{}, rec Record, spec *Spec) error {
	if len(scalars) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           rec,
		Squash:           true,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			jsonColumnHook(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(scalars); err != nil {
		return apierr.Validation("payload for %s does not conform to its schema: %v", spec.Kind, err)
	}
	return nil
}

// jsonColumnHook serializes arbitrary payload values into raw JSON columns.
func jsonColumnHook() mapstructure.DecodeHookFuncType {
	jsonType := reflect.TypeOf(datatypes.JSON{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != jsonType || from == jsonType {
			return data, nil
		}
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return datatypes.JSON(b), nil
	}
}

// Delete removes a record owned by principal; exclusively owned members go
// with it via the schema's cascades, inside the same transaction.
func (e *Engine) Delete(ctx context.Context, principal *types.User, kind Kind, id string) error {
	if principal == nil {
		return apierr.Unauthorized("authentication required")
	}
	spec, err := e.reg.Get(kind)
	if err != nil {
		return apierr.Unprocessable("%v", err)
	}
	id = SanitizeID(id)
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := spec.New()
		if err := tx.Where("id = ?", id).First(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.NotFound("%s %q does not exist", kind, id)
			}
			return err
		}
		if own, ok := rec.(ownable); ok {
			owner := own.OwnerID()
			if owner == nil || *owner != principal.ExternalID {
				return apierr.Forbidden("user %s cannot delete record owned by another user", principal.ExternalID)
			}
		}
		return tx.Delete(rec).Error
	})
}
