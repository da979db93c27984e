package resources

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind tags one entity kind served by the resource engine.
type Kind string

const (
	KindStudy             Kind = "study"
	KindAnalysis          Kind = "analysis"
	KindCondition         Kind = "condition"
	KindAnalysisCondition Kind = "analysis_condition"
	KindImage             Kind = "image"
	KindPoint             Kind = "point"
	KindPointValue        Kind = "point_value"
	KindStudyset          Kind = "studyset"
	KindStudysetStudy     Kind = "studyset_study"
	KindAnnotation        Kind = "annotation"
	KindAnnotationNote    Kind = "annotation_note"

	KindProject             Kind = "project"
	KindMetaAnalysis        Kind = "meta_analysis"
	KindSpecification       Kind = "specification"
	KindStudysetReference   Kind = "studyset_reference"
	KindAnnotationReference Kind = "annotation_reference"
	KindCachedStudyset      Kind = "cached_studyset"
	KindCachedAnnotation    Kind = "cached_annotation"
	KindMetaAnalysisResult  Kind = "meta_analysis_result"
	KindNeurovaultCollection Kind = "neurovault_collection"
	KindNeurovaultFile      Kind = "neurovault_file"
	KindNeurostoreStudy     Kind = "neurostore_study"
	KindNeurostoreAnalysis  Kind = "neurostore_analysis"
)

// Record is any GORM model the engine can manage.
type Record interface{}

// identifiable is implemented by models embedding types.Base.
type identifiable interface {
	RecordID() string
	SetRecordID(id string)
}

// ownable is implemented by models embedding types.Ownership.
type ownable interface {
	OwnerID() *string
	SetOwnerID(id string)
}

// RelKind classifies a relation field in a write payload.
type RelKind int

const (
	// RelNested children are exclusively owned by the record; payloads are
	// recursed into and the collection is replaced wholesale.
	RelNested RelKind = iota + 1
	// RelParent references must exist and be owned by the acting principal.
	RelParent
	// RelLinked references must exist; no ownership check.
	RelLinked
)

// AttachFunc binds resolved or freshly upserted targets onto rec. For nested
// collections it also reconciles the database state (orphan removal,
// membership rows) inside tx.
type AttachFunc func(tx *gorm.DB, rec Record, targets []Record) error

type FieldSpec struct {
	Rel    RelKind
	Target Kind
	// Assoc is the GORM association name backing this field, used for dump
	// collapsing. Empty for fields that only set scalar columns.
	Assoc string
	Many  bool
	// Shared marks a nested field whose members are independently owned
	// (membership links). Clone dumps these as id references instead of
	// deep copies.
	Shared bool
	Attach AttachFunc
}

// ReplaceHook fires after a nested collection was replaced wholesale.
type ReplaceHook func(tx *gorm.DB, rec Record, children []Record) error

// CommitHook runs at the end of a kind's upsert, still inside the enclosing
// transaction; returning an error aborts the whole request.
type CommitHook func(tx *gorm.DB, rec Record, created bool) error

// Spec is the static configuration for one entity kind: how to construct it,
// which payload fields are relations, what is searchable and sortable, and
// which invariant hooks the engine must run.
type Spec struct {
	Kind  Kind
	Table string
	New   func() Record

	// SearchFields are columns filterable individually (ANDed); they also
	// serve as the OR-ed full-text set unless MultiSearch overrides it.
	SearchFields []string
	MultiSearch  []string

	// Sortable maps a column name to whether it sorts case-insensitively.
	// created_at is always sortable and is the only column honoring desc.
	Sortable map[string]bool

	Fields map[string]FieldSpec

	// CompositeKey lists the columns identifying this kind instead of an id.
	CompositeKey []string

	// Reference kinds may be lazily materialized by id alone.
	Reference bool

	// SaveInAttach defers persistence to the owning field's Attach closure
	// (composite-key association rows that need the parent's id first).
	SaveInAttach bool

	HasPublic     bool
	DefaultPublic bool

	// StudysetFilterColumn, when set, makes the studyset_id list filter
	// apply to this column.
	StudysetFilterColumn string

	// DataTypeColumn, when set, makes the data_type list filter apply.
	DataTypeColumn string

	// SourceVia selects the join path for the uniqueness/source-chasing
	// counts in list responses.
	SourceVia SourceJoin

	// Preloads are association paths loaded before dumping.
	Preloads []string

	OnReplace    map[string]ReplaceHook
	BeforeCommit CommitHook

	// CloneTransform mutates a clone payload before it is re-created
	// (dropping fields that cannot be round-tripped).
	CloneTransform func(payload map[string]interface{})
}

// SourceJoin selects how the uniqueness filter reaches source/source_id.
type SourceJoin int

const (
	SourceNone SourceJoin = iota
	SourceSelf
	SourceViaStudy
	SourceViaAnalysis
)

// Registry is the static Kind -> Spec table, resolved at startup.
type Registry struct {
	specs map[Kind]*Spec
}

func NewRegistry(specs ...*Spec) *Registry {
	r := &Registry{specs: make(map[Kind]*Spec, len(specs))}
	for _, s := range specs {
		r.specs[s.Kind] = s
	}
	return r
}

func (r *Registry) Get(kind Kind) (*Spec, error) {
	s, ok := r.specs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return s, nil
}

func (r *Registry) MustGet(kind Kind) *Spec {
	s, err := r.Get(kind)
	if err != nil {
		panic(err)
	}
	return s
}

// SanitizeID replaces embedded null bytes so malformed keys cannot reach the
// database lookup layer.
func SanitizeID(id string) string {
	return strings.ReplaceAll(id, "\x00", "�")
}
