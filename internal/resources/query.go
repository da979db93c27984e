package resources

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"gorm.io/gorm"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	ingestionSource = "neurostore"
)

// ListParams is the recognized filter/option set for list queries.
type ListParams struct {
	Search     string
	Sort       string
	Page       int
	Desc       *bool
	PageSize   int
	SourceID   string
	Source     string
	Unique     bool
	Nested     bool
	UserID     string
	StudysetID string
	DataType   string
	// Fields holds kind-specific free-text filters, each applied
	// independently and ANDed.
	Fields map[string]string
}

// ListMetadata accompanies every page of results.
type ListMetadata struct {
	TotalCount  int64 `json:"total_count"`
	UniqueCount int64 `json:"unique_count"`
}

// List applies visibility, filters, search, sort and pagination for one
// entity kind and returns dumped records plus the dual counts.
func (e *Engine) List(ctx context.Context, principal *types.User, kind Kind, p ListParams) ([]map[string]interface{}, ListMetadata, error) {
	var meta ListMetadata
	spec, err := e.reg.Get(kind)
	if err != nil {
		return nil, meta, apierr.Unprocessable("%v", err)
	}

	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize >= maxPageSize || p.PageSize < 1 {
		return nil, meta, apierr.Validation("page_size must be between 1 and %d", maxPageSize-1)
	}

	q := e.db.WithContext(ctx).Model(spec.New()).Table(spec.Table)

	// visibility comes first, regardless of any other filter
	if spec.HasPublic {
		if principal != nil {
			q = q.Where(spec.Table+".public = ? OR "+spec.Table+".user_id = ?", true, principal.ExternalID)
		} else {
			q = q.Where(spec.Table+".public = ?", true)
		}
	}

	if p.UserID != "" {
		q = q.Where(spec.Table+".user_id = ?", p.UserID)
	}
	if p.StudysetID != "" && spec.StudysetFilterColumn != "" {
		q = q.Where(spec.Table+"."+spec.StudysetFilterColumn+" = ?", p.StudysetID)
	}
	if p.DataType != "" && spec.DataTypeColumn != "" {
		q = q.Where(spec.Table+"."+spec.DataTypeColumn+" = ?", p.DataType)
	}
	if spec.SourceVia == SourceSelf {
		if p.Source != "" {
			q = q.Where(spec.Table+".source = ?", p.Source)
		}
		if p.SourceID != "" {
			q = q.Where(spec.Table+".source_id = ?", p.SourceID)
		}
	}

	fulltext := spec.MultiSearch
	if len(fulltext) == 0 {
		fulltext = spec.SearchFields
	}
	if p.Search != "" && len(fulltext) > 0 {
		var exprs []string
		var args []interface{}
		for _, col := range fulltext {
			exprs = append(exprs, "LOWER("+spec.Table+"."+col+") LIKE ?")
			args = append(args, "%"+strings.ToLower(p.Search)+"%")
		}
		q = q.Where(strings.Join(exprs, " OR "), args...)
	}
	for _, col := range spec.SearchFields {
		if val, ok := p.Fields[col]; ok && val != "" {
			q = q.Where("LOWER("+spec.Table+"."+col+") LIKE ?", "%"+strings.ToLower(val)+"%")
		}
	}

	// sort: creation time is the only column with a controllable direction,
	// everything else is case-insensitive ascending. Columns living on a
	// joined entity are unsupported.
	sortCol := p.Sort
	if sortCol == "" {
		sortCol = "created_at"
	}
	switch {
	case sortCol == "created_at":
		desc := true
		if p.Desc != nil {
			desc = *p.Desc
		}
		dir := "ASC"
		if desc {
			dir = "DESC"
		}
		q = q.Order(spec.Table + ".created_at " + dir)
	default:
		lowerable, ok := spec.Sortable[sortCol]
		if !ok {
			return nil, meta, apierr.Validation("sorting %s by %q is not supported", kind, sortCol)
		}
		if lowerable {
			q = q.Order("LOWER(" + spec.Table + "." + sortCol + ") ASC")
		} else {
			q = q.Order(spec.Table + "." + sortCol + " ASC")
		}
	}

	q, countErr := e.applyCounts(q, spec, p.Unique, &meta)
	if countErr != nil {
		return nil, meta, countErr
	}

	for _, pl := range spec.Preloads {
		q = q.Preload(pl)
	}

	recs, err := e.findAll(q, spec, (p.Page-1)*p.PageSize, p.PageSize)
	if err != nil {
		return nil, meta, err
	}

	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		m, dErr := e.Dump(spec, rec, p.Nested)
		if dErr != nil {
			return nil, meta, dErr
		}
		out = append(out, m)
	}
	return out, meta, nil
}

// applyCounts computes total_count and unique_count. When unique is
// requested, derived copies of externally sourced originals are excluded from
// the result set itself; otherwise both counts are reported side by side.
func (e *Engine) applyCounts(q *gorm.DB, spec *Spec, unique bool, meta *ListMetadata) (*gorm.DB, error) {
	joined := func(db *gorm.DB) (*gorm.DB, string, bool) {
		switch spec.SourceVia {
		case SourceSelf:
			return db, spec.Table, true
		case SourceViaStudy:
			return db.Joins("JOIN studies ON studies.id = " + spec.Table + ".study_id"), "studies", true
		case SourceViaAnalysis:
			return db.Joins("JOIN analyses ON analyses.id = "+spec.Table+".analysis_id").
				Joins("JOIN studies ON studies.id = analyses.study_id"), "studies", true
		default:
			return db, "", false
		}
	}

	if unique {
		jq, table, ok := joined(q)
		if ok {
			jq = jq.Where(table+".source <> ? OR "+table+".source_id IS NULL", ingestionSource)
		}
		var count int64
		if err := jq.Session(&gorm.Session{}).Count(&count).Error; err != nil {
			return nil, err
		}
		meta.TotalCount = count
		meta.UniqueCount = count
		return jq, nil
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}
	meta.TotalCount = total

	jq, table, ok := joined(q.Session(&gorm.Session{}))
	if !ok {
		meta.UniqueCount = total
		return q, nil
	}
	var uniqueCount int64
	if err := jq.Where(table + ".source_id IS NULL").Count(&uniqueCount).Error; err != nil {
		return nil, err
	}
	meta.UniqueCount = uniqueCount
	return q, nil
}

// findAll materializes one page. The registry's New constructor gives us the
// concrete model type; gorm fills a reflected slice of it.
func (e *Engine) findAll(q *gorm.DB, spec *Spec, offset, limit int) ([]Record, error) {
	dest := reflect.New(reflect.SliceOf(reflect.TypeOf(spec.New())))
	if err := q.Offset(offset).Limit(limit).Find(dest.Interface()).Error; err != nil {
		return nil, err
	}
	rows := dest.Elem()
	recs := make([]Record, rows.Len())
	for i := range recs {
		recs[i] = rows.Index(i).Interface()
	}
	return recs, nil
}

// Get loads one record by id, enforcing the visibility rule for private
// records.
func (e *Engine) Get(ctx context.Context, principal *types.User, kind Kind, id string, nested bool) (map[string]interface{}, error) {
	spec, err := e.reg.Get(kind)
	if err != nil {
		return nil, apierr.Unprocessable("%v", err)
	}
	id = SanitizeID(id)
	q := e.db.WithContext(ctx)
	for _, pl := range spec.Preloads {
		q = q.Preload(pl)
	}
	rec := spec.New()
	if err := q.Where(spec.Table+".id = ?", id).First(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("%s %q does not exist", kind, id)
		}
		return nil, err
	}
	if spec.HasPublic {
		if pub, owner := publicOwner(rec); !pub {
			if principal == nil || owner == nil || *owner != principal.ExternalID {
				return nil, apierr.Forbidden("record is private")
			}
		}
	}
	return e.Dump(spec, rec, nested)
}

// GetRecord is Get without the dump, for callers that need the model itself.
func (e *Engine) GetRecord(ctx context.Context, kind Kind, id string) (Record, error) {
	spec, err := e.reg.Get(kind)
	if err != nil {
		return nil, apierr.Unprocessable("%v", err)
	}
	rec := spec.New()
	q := e.db.WithContext(ctx)
	for _, pl := range spec.Preloads {
		q = q.Preload(pl)
	}
	if err := q.Where("id = ?", SanitizeID(id)).First(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("%s %q does not exist", kind, id)
		}
		return nil, err
	}
	return rec, nil
}

func publicOwner(rec Record) (bool, *string) {
	var owner *string
	if own, ok := rec.(ownable); ok {
		owner = own.OwnerID()
	}
	f := reflect.ValueOf(rec).Elem().FieldByName("Public")
	if f.IsValid() && f.Kind() == reflect.Bool {
		return f.Bool(), owner
	}
	return true, owner
}
