package resources

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neurostuff/neurostore-go/internal/types"
)

// AnnotationSyncer keeps annotation notes consistent with the studyset
// membership and study composition they shadow. The engine calls it from
// inside write transactions; implementations must be idempotent.
type AnnotationSyncer interface {
	ValidateNotes(tx *gorm.DB, ann *types.Annotation) error
	CreateBlankNotes(tx *gorm.DB, ann *types.Annotation) error
	SyncStudysetStudies(tx *gorm.DB, studysetID string) error
	SyncStudyAnalyses(tx *gorm.DB, studyID string) error
}

// NewStoreRegistry wires the data-store entity kinds: studies and their
// analysis trees, studysets, and annotations.
func NewStoreRegistry(annot AnnotationSyncer) *Registry {
	return NewRegistry(
		studySpec(annot),
		analysisSpec(annot),
		conditionSpec(),
		analysisConditionSpec(),
		imageSpec(),
		pointSpec(),
		pointValueSpec(),
		studysetSpec(annot),
		studysetStudySpec(),
		annotationSpec(annot),
		annotationNoteSpec(),
	)
}

// deleteOrphans removes the rows under parentID whose keepCol value is not in
// keep. An empty keep list clears the collection.
func deleteOrphans(tx *gorm.DB, model interface{}, parentCol, parentID, keepCol string, keep []string) error {
	q := tx.Where(parentCol+" = ?", parentID)
	if len(keep) > 0 {
		q = q.Where(keepCol+" NOT IN ?", keep)
	}
	return q.Delete(model).Error
}

func upsertRow(tx *gorm.DB, row interface{}, keyCols ...string) error {
	cols := make([]clause.Column, len(keyCols))
	for i, c := range keyCols {
		cols[i] = clause.Column{Name: c}
	}
	return tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: cols, UpdateAll: true}).
		Create(row).Error
}

func studySpec(annot AnnotationSyncer) *Spec {
	return &Spec{
		Kind:  KindStudy,
		Table: "studies",
		New:   func() Record { return &types.Study{} },
		SearchFields: []string{
			"name", "description", "source_id", "source", "authors", "publication", "doi", "pmid",
		},
		MultiSearch: []string{"name", "description"},
		Sortable: map[string]bool{
			"name": true, "description": true, "authors": true,
			"publication": true, "doi": true, "pmid": true, "year": false,
		},
		HasPublic:     true,
		DefaultPublic: true,
		SourceVia:     SourceSelf,
		Preloads: []string{
			"Analyses",
			"Analyses.Points", "Analyses.Points.Values",
			"Analyses.Images",
			"Analyses.AnalysisConditions", "Analyses.AnalysisConditions.Condition",
		},
		Fields: map[string]FieldSpec{
			"analyses": {
				Rel: RelNested, Target: KindAnalysis, Assoc: "Analyses", Many: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					study := rec.(*types.Study)
					keep := make([]string, 0, len(targets))
					kids := make([]*types.Analysis, 0, len(targets))
					for _, t := range targets {
						a := t.(*types.Analysis)
						if a.StudyID == nil || *a.StudyID != study.ID {
							if err := tx.Model(&types.Analysis{}).Where("id = ?", a.ID).
								Update("study_id", study.ID).Error; err != nil {
								return err
							}
							a.StudyID = &study.ID
						}
						keep = append(keep, a.ID)
						kids = append(kids, a)
					}
					if err := deleteOrphans(tx, &types.Analysis{}, "study_id", study.ID, "id", keep); err != nil {
						return err
					}
					study.Analyses = kids
					return nil
				},
			},
		},
		OnReplace: map[string]ReplaceHook{
			"analyses": func(tx *gorm.DB, rec Record, _ []Record) error {
				return annot.SyncStudyAnalyses(tx, rec.(*types.Study).ID)
			},
		},
	}
}

func analysisSpec(annot AnnotationSyncer) *Spec {
	return &Spec{
		Kind:         KindAnalysis,
		Table:        "analyses",
		New:          func() Record { return &types.Analysis{} },
		SearchFields: []string{"name", "description"},
		Sortable:     map[string]bool{"name": true, "description": true},
		SourceVia:    SourceViaStudy,
		Preloads: []string{
			"Points", "Points.Values", "Images",
			"AnalysisConditions", "AnalysisConditions.Condition",
		},
		Fields: map[string]FieldSpec{
			"study": {
				Rel: RelParent, Target: KindStudy,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					a := rec.(*types.Analysis)
					study := targets[0].(*types.Study)
					a.StudyID = &study.ID
					return nil
				},
			},
			"points": {
				Rel: RelNested, Target: KindPoint, Assoc: "Points", Many: true,
				Attach: claimChildren[*types.Point](func(p *types.Point) *string {
					return p.AnalysisID
				}, func(p *types.Point, parentID string) {
					p.AnalysisID = &parentID
				}, func(a Record, kids []*types.Point) {
					a.(*types.Analysis).Points = kids
				}, &types.Point{}, "analysis_id"),
			},
			"images": {
				Rel: RelNested, Target: KindImage, Assoc: "Images", Many: true,
				Attach: claimChildren[*types.Image](func(img *types.Image) *string {
					return img.AnalysisID
				}, func(img *types.Image, parentID string) {
					img.AnalysisID = &parentID
				}, func(a Record, kids []*types.Image) {
					a.(*types.Analysis).Images = kids
				}, &types.Image{}, "analysis_id"),
			},
			"analysis_conditions": {
				Rel: RelNested, Target: KindAnalysisCondition, Assoc: "AnalysisConditions", Many: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					a := rec.(*types.Analysis)
					keep := make([]string, 0, len(targets))
					kids := make([]*types.AnalysisCondition, 0, len(targets))
					for _, t := range targets {
						ac := t.(*types.AnalysisCondition)
						ac.AnalysisID = a.ID
						if err := upsertRow(tx, ac, "analysis_id", "condition_id"); err != nil {
							return err
						}
						keep = append(keep, ac.ConditionID)
						kids = append(kids, ac)
					}
					if err := deleteOrphans(tx, &types.AnalysisCondition{}, "analysis_id", a.ID, "condition_id", keep); err != nil {
						return err
					}
					a.AnalysisConditions = kids
					return nil
				},
			},
		},
		BeforeCommit: func(tx *gorm.DB, rec Record, created bool) error {
			a := rec.(*types.Analysis)
			if created && a.StudyID != nil {
				return annot.SyncStudyAnalyses(tx, *a.StudyID)
			}
			return nil
		},
	}
}

// claimChildren builds the attach closure shared by simple owned collections:
// point the children's FK at the parent, drop rows no longer listed, and set
// the in-memory association. Children already pointing at the parent are left
// alone so re-listing them does not touch their rows.
func claimChildren[T identifiable](fk func(T) *string, setParent func(T, string), setKids func(Record, []T), model interface{}, fkCol string) AttachFunc {
	return func(tx *gorm.DB, rec Record, targets []Record) error {
		parent := rec.(identifiable).RecordID()
		keep := make([]string, 0, len(targets))
		kids := make([]T, 0, len(targets))
		for _, t := range targets {
			child := t.(T)
			if cur := fk(child); cur == nil || *cur != parent {
				if err := tx.Model(child).Update(fkCol, parent).Error; err != nil {
					return err
				}
			}
			setParent(child, parent)
			keep = append(keep, child.RecordID())
			kids = append(kids, child)
		}
		if err := deleteOrphans(tx, model, fkCol, parent, "id", keep); err != nil {
			return err
		}
		setKids(rec, kids)
		return nil
	}
}

func conditionSpec() *Spec {
	return &Spec{
		Kind:         KindCondition,
		Table:        "conditions",
		New:          func() Record { return &types.Condition{} },
		SearchFields: []string{"name", "description"},
		Sortable:     map[string]bool{"name": true, "description": true},
	}
}

func analysisConditionSpec() *Spec {
	return &Spec{
		Kind:         KindAnalysisCondition,
		Table:        "analysis_conditions",
		New:          func() Record { return &types.AnalysisCondition{} },
		CompositeKey: []string{"analysis_id", "condition_id"},
		SaveInAttach: true,
		Preloads:     []string{"Condition"},
		Fields: map[string]FieldSpec{
			"condition": {
				Rel: RelNested, Target: KindCondition, Assoc: "Condition",
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					ac := rec.(*types.AnalysisCondition)
					cond := targets[0].(*types.Condition)
					ac.ConditionID = cond.ID
					ac.Condition = cond
					return nil
				},
			},
		},
	}
}

func imageSpec() *Spec {
	return &Spec{
		Kind:           KindImage,
		Table:          "images",
		New:            func() Record { return &types.Image{} },
		SearchFields:   []string{"filename", "space", "value_type"},
		Sortable:       map[string]bool{"filename": true, "space": true, "value_type": true},
		DataTypeColumn: "value_type",
		SourceVia:      SourceViaAnalysis,
		Fields: map[string]FieldSpec{
			"analysis": {
				Rel: RelParent, Target: KindAnalysis,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					img := rec.(*types.Image)
					a := targets[0].(*types.Analysis)
					img.AnalysisID = &a.ID
					return nil
				},
			},
		},
	}
}

func pointSpec() *Spec {
	return &Spec{
		Kind:         KindPoint,
		Table:        "points",
		New:          func() Record { return &types.Point{} },
		SearchFields: []string{"space", "kind"},
		Sortable:     map[string]bool{"space": true, "kind": true},
		SourceVia:    SourceViaAnalysis,
		Preloads:     []string{"Values"},
		Fields: map[string]FieldSpec{
			"analysis": {
				Rel: RelParent, Target: KindAnalysis,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					p := rec.(*types.Point)
					a := targets[0].(*types.Analysis)
					p.AnalysisID = &a.ID
					return nil
				},
			},
			"values": {
				Rel: RelNested, Target: KindPointValue, Assoc: "Values", Many: true,
				Attach: claimChildren[*types.PointValue](func(v *types.PointValue) *string {
					return v.PointID
				}, func(v *types.PointValue, parentID string) {
					v.PointID = &parentID
				}, func(p Record, kids []*types.PointValue) {
					p.(*types.Point).Values = kids
				}, &types.PointValue{}, "point_id"),
			},
		},
	}
}

func pointValueSpec() *Spec {
	return &Spec{
		Kind:  KindPointValue,
		Table: "point_values",
		New:   func() Record { return &types.PointValue{} },
	}
}

func studysetSpec(annot AnnotationSyncer) *Spec {
	return &Spec{
		Kind:          KindStudyset,
		Table:         "studysets",
		New:           func() Record { return &types.Studyset{} },
		SearchFields:  []string{"name", "description", "publication", "doi", "pmid"},
		MultiSearch:   []string{"name", "description"},
		Sortable:      map[string]bool{"name": true, "description": true, "publication": true, "doi": true, "pmid": true},
		HasPublic:     true,
		DefaultPublic: true,
		SourceVia:     SourceSelf,
		Preloads:      []string{"Studies", "Studies.Analyses"},
		Fields: map[string]FieldSpec{
			"studies": {
				Rel: RelNested, Target: KindStudy, Assoc: "Studies", Many: true, Shared: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					ss := rec.(*types.Studyset)
					keep := make([]string, 0, len(targets))
					kids := make([]*types.Study, 0, len(targets))
					for _, t := range targets {
						s := t.(*types.Study)
						keep = append(keep, s.ID)
						kids = append(kids, s)
					}
					// notes hanging off removed memberships go first
					if err := deleteOrphans(tx, &types.AnnotationNote{}, "studyset_id", ss.ID, "study_id", keep); err != nil {
						return err
					}
					if err := deleteOrphans(tx, &types.StudysetStudy{}, "studyset_id", ss.ID, "study_id", keep); err != nil {
						return err
					}
					for _, id := range keep {
						link := &types.StudysetStudy{StudysetID: ss.ID, StudyID: id}
						if err := tx.Omit(clause.Associations).
							Clauses(clause.OnConflict{DoNothing: true}).
							Create(link).Error; err != nil {
							return err
						}
					}
					ss.Studies = kids
					return nil
				},
			},
		},
		OnReplace: map[string]ReplaceHook{
			"studies": func(tx *gorm.DB, rec Record, _ []Record) error {
				return annot.SyncStudysetStudies(tx, rec.(*types.Studyset).ID)
			},
		},
	}
}

func studysetStudySpec() *Spec {
	return &Spec{
		Kind:         KindStudysetStudy,
		Table:        "studyset_studies",
		New:          func() Record { return &types.StudysetStudy{} },
		CompositeKey: []string{"studyset_id", "study_id"},
		SaveInAttach: true,
	}
}

func annotationSpec(annot AnnotationSyncer) *Spec {
	return &Spec{
		Kind:                 KindAnnotation,
		Table:                "annotations",
		New:                  func() Record { return &types.Annotation{} },
		SearchFields:         []string{"name", "description"},
		Sortable:             map[string]bool{"name": true, "description": true},
		HasPublic:            true,
		DefaultPublic:        true,
		StudysetFilterColumn: "studyset_id",
		SourceVia:            SourceSelf,
		Preloads:             []string{"Notes"},
		Fields: map[string]FieldSpec{
			"studyset": {
				Rel: RelLinked, Target: KindStudyset, Assoc: "Studyset",
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					ann := rec.(*types.Annotation)
					ss := targets[0].(*types.Studyset)
					ann.StudysetID = &ss.ID
					ann.Studyset = ss
					return nil
				},
			},
			"notes": {
				Rel: RelNested, Target: KindAnnotationNote, Assoc: "Notes", Many: true,
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					ann := rec.(*types.Annotation)
					keep := make([]string, 0, len(targets))
					kids := make([]*types.AnnotationNote, 0, len(targets))
					for _, t := range targets {
						n := t.(*types.AnnotationNote)
						n.AnnotationID = ann.ID
						if ann.StudysetID != nil {
							n.StudysetID = *ann.StudysetID
						}
						if n.StudyID == "" && n.AnalysisID != "" {
							var a types.Analysis
							if err := tx.Select("study_id").Where("id = ?", n.AnalysisID).
								First(&a).Error; err != nil {
								return err
							}
							if a.StudyID != nil {
								n.StudyID = *a.StudyID
							}
						}
						if err := upsertRow(tx, n, "annotation_id", "analysis_id"); err != nil {
							return err
						}
						keep = append(keep, n.AnalysisID)
						kids = append(kids, n)
					}
					if err := deleteOrphans(tx, &types.AnnotationNote{}, "annotation_id", ann.ID, "analysis_id", keep); err != nil {
						return err
					}
					ann.Notes = kids
					return nil
				},
			},
		},
		BeforeCommit: func(tx *gorm.DB, rec Record, created bool) error {
			ann := rec.(*types.Annotation)
			if created && ann.StudysetID != nil {
				var existing int64
				if err := tx.Model(&types.AnnotationNote{}).
					Where("annotation_id = ?", ann.ID).Count(&existing).Error; err != nil {
					return err
				}
				if existing == 0 {
					if err := annot.CreateBlankNotes(tx, ann); err != nil {
						return err
					}
				}
			}
			return annot.ValidateNotes(tx, ann)
		},
		CloneTransform: func(payload map[string]interface{}) {
			notes, _ := payload["notes"].([]interface{})
			for _, it := range notes {
				if note, ok := it.(map[string]interface{}); ok {
					// membership columns are rebuilt during attach
					delete(note, "annotation_id")
				}
			}
		},
	}
}

func annotationNoteSpec() *Spec {
	return &Spec{
		Kind:         KindAnnotationNote,
		Table:        "annotation_notes",
		New:          func() Record { return &types.AnnotationNote{} },
		CompositeKey: []string{"annotation_id", "analysis_id"},
		SaveInAttach: true,
		Fields: map[string]FieldSpec{
			"analysis": {
				Rel: RelLinked, Target: KindAnalysis, Assoc: "Analysis",
				Attach: func(tx *gorm.DB, rec Record, targets []Record) error {
					n := rec.(*types.AnnotationNote)
					a := targets[0].(*types.Analysis)
					n.AnalysisID = a.ID
					n.Analysis = a
					if a.StudyID != nil {
						n.StudyID = *a.StudyID
					}
					return nil
				},
			},
		},
	}
}
