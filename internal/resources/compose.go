package resources

import (
	"gorm.io/gorm"

	"github.com/neurostuff/neurostore-go/internal/types"
)

// NewComposeRegistry wires the workflow-side entity kinds: projects,
// meta-analyses and their specifications, pinned snapshots of companion-store
// records, and run results with their upload bookkeeping.
func NewComposeRegistry() *Registry {
	return NewRegistry(
		projectSpec(),
		metaAnalysisSpec(),
		specificationSpec(),
		studysetReferenceSpec(),
		annotationReferenceSpec(),
		cachedStudysetSpec(),
		cachedAnnotationSpec(),
		metaAnalysisResultSpec(),
		neurovaultCollectionSpec(),
		neurovaultFileSpec(),
		neurostoreStudySpec(),
		neurostoreAnalysisSpec(),
	)
}

// setParentColumn records a FK that lives on an already-persisted parent row.
func setParentColumn(tx *gorm.DB, table, parentID, col, value string) error {
	return tx.Table(table).Where("id = ?", parentID).Update(col, value).Error
}

func projectSpec() *Spec {
	return &Spec{
		Kind:          KindProject,
		Table:         "projects",
		New:           func() Record { return &types.Project{} },
		SearchFields:  []string{"name", "description"},
		Sortable:      map[string]bool{"name": true, "description": true},
		HasPublic:     true,
		DefaultPublic: true,
		Preloads:      []string{"MetaAnalyses", "NeurostoreStudy"},
		Fields: map[string]FieldSpec{
			"meta_analyses": {
				Rel: RelNested, Target: KindMetaAnalysis, Assoc: "MetaAnalyses", Many: true,
				Attach: claimChildren[*types.MetaAnalysis](func(m *types.MetaAnalysis) *string {
					return m.ProjectID
				}, func(m *types.MetaAnalysis, parentID string) {
					m.ProjectID = &parentID
				}, func(p Record, kids []*types.MetaAnalysis) {
					p.(*types.Project).MetaAnalyses = kids
				}, &types.MetaAnalysis{}, "project_id"),
			},
		},
	}
}

func metaAnalysisSpec() *Spec {
	return &Spec{
		Kind:         KindMetaAnalysis,
		Table:        "meta_analyses",
		New:          func() Record { return &types.MetaAnalysis{} },
		SearchFields: []string{"name", "description"},
		Sortable:     map[string]bool{"name": true, "description": true},
		Preloads:     []string{"Specification", "CachedStudyset", "CachedAnnotation", "Results", "NeurostoreAnalysis"},
		Fields: map[string]FieldSpec{
			"project": {
				Rel: RelParent, Target: KindProject,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					m := rec.(*types.MetaAnalysis)
					p := targets[0].(*types.Project)
					m.ProjectID = &p.ID
					return nil
				},
			},
			"specification": {
				Rel: RelNested, Target: KindSpecification, Assoc: "Specification",
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					m := rec.(*types.MetaAnalysis)
					sp := targets[0].(*types.Specification)
					m.SpecificationID = &sp.ID
					m.Specification = sp
					return setParentColumn(tx, "meta_analyses", m.ID, "specification_id", sp.ID)
				},
			},
			"studyset": {
				Rel: RelNested, Target: KindCachedStudyset, Assoc: "CachedStudyset", Shared: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					m := rec.(*types.MetaAnalysis)
					cs := targets[0].(*types.CachedStudyset)
					m.CachedStudysetID = &cs.ID
					m.CachedStudyset = cs
					return setParentColumn(tx, "meta_analyses", m.ID, "cached_studyset_id", cs.ID)
				},
			},
			"annotation": {
				Rel: RelNested, Target: KindCachedAnnotation, Assoc: "CachedAnnotation", Shared: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					m := rec.(*types.MetaAnalysis)
					ca := targets[0].(*types.CachedAnnotation)
					m.CachedAnnotationID = &ca.ID
					m.CachedAnnotation = ca
					return setParentColumn(tx, "meta_analyses", m.ID, "cached_annotation_id", ca.ID)
				},
			},
			"results": {
				Rel: RelNested, Target: KindMetaAnalysisResult, Assoc: "Results", Many: true,
				Attach: claimChildren[*types.MetaAnalysisResult](func(r *types.MetaAnalysisResult) *string {
					return r.MetaAnalysisID
				}, func(r *types.MetaAnalysisResult, parentID string) {
					r.MetaAnalysisID = &parentID
				}, func(m Record, kids []*types.MetaAnalysisResult) {
					m.(*types.MetaAnalysis).Results = kids
				}, &types.MetaAnalysisResult{}, "meta_analysis_id"),
			},
		},
	}
}

func specificationSpec() *Spec {
	return &Spec{
		Kind:         KindSpecification,
		Table:        "specifications",
		New:          func() Record { return &types.Specification{} },
		SearchFields: []string{"type"},
		Sortable:     map[string]bool{"type": true},
	}
}

func studysetReferenceSpec() *Spec {
	return &Spec{
		Kind:      KindStudysetReference,
		Table:     "studyset_references",
		New:       func() Record { return &types.StudysetReference{} },
		Reference: true,
	}
}

func annotationReferenceSpec() *Spec {
	return &Spec{
		Kind:      KindAnnotationReference,
		Table:     "annotation_references",
		New:       func() Record { return &types.AnnotationReference{} },
		Reference: true,
	}
}

func cachedStudysetSpec() *Spec {
	return &Spec{
		Kind:  KindCachedStudyset,
		Table: "cached_studysets",
		New:   func() Record { return &types.CachedStudyset{} },
		Fields: map[string]FieldSpec{
			"studyset_reference": {
				Rel: RelNested, Target: KindStudysetReference, Assoc: "StudysetReference", Shared: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					cs := rec.(*types.CachedStudyset)
					ref := targets[0].(*types.StudysetReference)
					cs.StudysetReferenceID = &ref.ID
					cs.StudysetReference = ref
					return setParentColumn(tx, "cached_studysets", cs.ID, "studyset_reference_id", ref.ID)
				},
			},
		},
	}
}

func cachedAnnotationSpec() *Spec {
	return &Spec{
		Kind:  KindCachedAnnotation,
		Table: "cached_annotations",
		New:   func() Record { return &types.CachedAnnotation{} },
		Fields: map[string]FieldSpec{
			"annotation_reference": {
				Rel: RelNested, Target: KindAnnotationReference, Assoc: "AnnotationReference", Shared: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					ca := rec.(*types.CachedAnnotation)
					ref := targets[0].(*types.AnnotationReference)
					ca.AnnotationReferenceID = &ref.ID
					ca.AnnotationReference = ref
					return setParentColumn(tx, "cached_annotations", ca.ID, "annotation_reference_id", ref.ID)
				},
			},
		},
	}
}

func metaAnalysisResultSpec() *Spec {
	return &Spec{
		Kind:     KindMetaAnalysisResult,
		Table:    "meta_analysis_results",
		New:      func() Record { return &types.MetaAnalysisResult{} },
		Preloads: []string{"NeurovaultCollection", "NeurovaultCollection.Files"},
		Fields: map[string]FieldSpec{
			"meta_analysis": {
				Rel: RelParent, Target: KindMetaAnalysis,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					r := rec.(*types.MetaAnalysisResult)
					m := targets[0].(*types.MetaAnalysis)
					r.MetaAnalysisID = &m.ID
					return nil
				},
			},
			"neurovault_collection": {
				Rel: RelNested, Target: KindNeurovaultCollection, Assoc: "NeurovaultCollection",
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					r := rec.(*types.MetaAnalysisResult)
					col := targets[0].(*types.NeurovaultCollection)
					col.ResultID = &r.ID
					r.NeurovaultCollection = col
					return tx.Model(&types.NeurovaultCollection{}).Where("id = ?", col.ID).
						Update("result_id", r.ID).Error
				},
			},
		},
	}
}

func neurovaultCollectionSpec() *Spec {
	return &Spec{
		Kind:     KindNeurovaultCollection,
		Table:    "neurovault_collections",
		New:      func() Record { return &types.NeurovaultCollection{} },
		Preloads: []string{"Files"},
		Fields: map[string]FieldSpec{
			"files": {
				Rel: RelNested, Target: KindNeurovaultFile, Assoc: "Files", Many: true,
				Attach: claimChildren[*types.NeurovaultFile](func(f *types.NeurovaultFile) *string {
					return f.CollectionID
				}, func(f *types.NeurovaultFile, parentID string) {
					f.CollectionID = &parentID
				}, func(c Record, kids []*types.NeurovaultFile) {
					c.(*types.NeurovaultCollection).Files = kids
				}, &types.NeurovaultFile{}, "collection_id"),
			},
		},
	}
}

func neurovaultFileSpec() *Spec {
	return &Spec{
		Kind:  KindNeurovaultFile,
		Table: "neurovault_files",
		New:   func() Record { return &types.NeurovaultFile{} },
	}
}

func neurostoreStudySpec() *Spec {
	return &Spec{
		Kind:  KindNeurostoreStudy,
		Table: "neurostore_studies",
		New:   func() Record { return &types.NeurostoreStudy{} },
	}
}

func neurostoreAnalysisSpec() *Spec {
	return &Spec{
		Kind:  KindNeurostoreAnalysis,
		Table: "neurostore_analyses",
		New:   func() Record { return &types.NeurostoreAnalysis{} },
	}
}
