package resources

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// Clone copies the record identified by sourceID into a new record owned by
// the principal, stamping provenance so the copy can be traced back. The
// provenance chain is chased first: cloning a clone records the ultimate
// original, not the intermediate copy.
func (e *Engine) Clone(ctx context.Context, principal *types.User, kind Kind, sourceID, source string, overrides map[string]interface{}) (Record, error) {
	if source == "" {
		source = ingestionSource
	}
	if source != ingestionSource {
		return nil, apierr.Validation("unknown source %q", source)
	}
	spec, err := e.reg.Get(kind)
	if err != nil {
		return nil, apierr.Unprocessable("%v", err)
	}

	orig, err := e.chaseSource(ctx, spec, sourceID)
	if err != nil {
		return nil, err
	}

	payload, err := e.cloneDump(spec, orig)
	if err != nil {
		return nil, err
	}
	payload["source"] = source
	payload["source_id"] = recordID(orig)
	payload["source_updated_at"] = sourceTimestamp(orig).Format(time.RFC3339Nano)
	if spec.CloneTransform != nil {
		spec.CloneTransform(payload)
	}
	for k, v := range overrides {
		if isReservedField(k) {
			continue
		}
		payload[k] = v
	}
	return e.UpdateOrCreate(ctx, principal, kind, payload, "")
}

// chaseSource resolves sourceID, following provenance links until it reaches
// a record that is not itself a copy.
func (e *Engine) chaseSource(ctx context.Context, spec *Spec, sourceID string) (Record, error) {
	id := SanitizeID(sourceID)
	for {
		rec := spec.New()
		q := e.db.WithContext(ctx)
		for _, pl := range spec.Preloads {
			q = q.Preload(pl)
		}
		if err := q.Where(spec.Table+".id = ?", id).First(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apierr.NotFound("source %s %q does not exist", spec.Kind, id)
			}
			return nil, err
		}
		prov, ok := rec.(provenanced)
		if !ok {
			return rec, nil
		}
		src, srcID := prov.SourceRef()
		if src == nil || *src != ingestionSource || srcID == nil || *srcID == "" {
			return rec, nil
		}
		id = SanitizeID(*srcID)
	}
}

type provenanced interface {
	SourceRef() (source, sourceID *string)
}

type timestamped interface {
	Timestamps() (created, updated time.Time)
}

func recordID(rec Record) string {
	if idable, ok := rec.(identifiable); ok {
		return idable.RecordID()
	}
	return ""
}

// sourceTimestamp is the original's last modification time, falling back to
// its creation time.
func sourceTimestamp(rec Record) time.Time {
	if ts, ok := rec.(timestamped); ok {
		created, updated := ts.Timestamps()
		if !updated.IsZero() {
			return updated
		}
		return created
	}
	return time.Now().UTC()
}
