package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// AnnotationService maintains the annotation invariants: every note carries
// exactly the key set declared in note_keys, and exactly one note exists per
// (annotation, analysis) pair reachable through the studyset membership.
type AnnotationService interface {
	ValidateNotes(tx *gorm.DB, ann *types.Annotation) error
	CreateBlankNotes(tx *gorm.DB, ann *types.Annotation) error
	SyncStudysetStudies(tx *gorm.DB, studysetID string) error
	SyncStudyAnalyses(tx *gorm.DB, studyID string) error
	ExportCSV(db *gorm.DB, ann *types.Annotation) ([]byte, error)
}

type annotationService struct {
	log *logger.Logger
}

func NewAnnotationService(log *logger.Logger) AnnotationService {
	return &annotationService{log: log.With("service", "AnnotationService")}
}

// noteTarget is an (analysis, study) pair reachable from an annotation's
// studyset.
type noteTarget struct {
	AnalysisID string
	StudyID    string
}

func (s *annotationService) targets(tx *gorm.DB, studysetID string) ([]noteTarget, error) {
	var rows []noteTarget
	err := tx.Table("analyses").
		Select("analyses.id AS analysis_id, analyses.study_id AS study_id").
		Joins("JOIN studyset_studies ON studyset_studies.study_id = analyses.study_id").
		Where("studyset_studies.studyset_id = ?", studysetID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ValidateNotes checks every note of ann against note_keys. Annotations with
// no populated notes pass; populated notes require declared keys.
func (s *annotationService) ValidateNotes(tx *gorm.DB, ann *types.Annotation) error {
	var notes []*types.AnnotationNote
	if err := tx.Where("annotation_id = ?", ann.ID).Find(&notes).Error; err != nil {
		return err
	}
	anyNotes := false
	for _, n := range notes {
		if len(n.Note) > 0 {
			anyNotes = true
			break
		}
	}
	if !anyNotes {
		return nil
	}
	if len(ann.NoteKeys) == 0 {
		return apierr.Validation("cannot have empty note_keys with annotations")
	}
	for _, n := range notes {
		if err := checkNoteColumns(ann.NoteKeys, n); err != nil {
			return err
		}
	}
	return nil
}

// checkNoteColumns enforces exact key-set equality between one note and the
// declared note_keys, and that each non-null value carries the declared type.
func checkNoteColumns(noteKeys datatypes.JSONMap, n *types.AnnotationNote) error {
	if len(n.Note) != len(noteKeys) {
		return apierr.Validation(
			"note for analysis %s has %d keys, annotation declares %d",
			n.AnalysisID, len(n.Note), len(noteKeys),
		)
	}
	for k := range n.Note {
		if _, ok := noteKeys[k]; !ok {
			return apierr.Validation("note for analysis %s has undeclared key %q", n.AnalysisID, k)
		}
	}
	for k, declared := range noteKeys {
		got := typeTag(n.Note[k])
		if got != nil && got != declared {
			return apierr.Validation(
				"note for analysis %s: value for key %q is not of type %v",
				n.AnalysisID, k, declared,
			)
		}
	}
	return nil
}

func typeTag(v interface{}) interface{} {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	default:
		return nil
	}
}

func blankNote(noteKeys datatypes.JSONMap) datatypes.JSONMap {
	note := make(datatypes.JSONMap, len(noteKeys))
	for k := range noteKeys {
		note[k] = nil
	}
	return note
}

// CreateBlankNotes materializes one all-null note per analysis reachable
// through the annotation's studyset.
func (s *annotationService) CreateBlankNotes(tx *gorm.DB, ann *types.Annotation) error {
	if ann.StudysetID == nil {
		return nil
	}
	return s.ensureNotes(tx, ann)
}

// ensureNotes reconciles an annotation's notes with the current membership:
// missing (analysis, study) pairs get blank notes, stale pairs are removed.
// Existing note contents are never touched.
func (s *annotationService) ensureNotes(tx *gorm.DB, ann *types.Annotation) error {
	if ann.StudysetID == nil {
		return nil
	}
	desired, err := s.targets(tx, *ann.StudysetID)
	if err != nil {
		return err
	}
	var existing []*types.AnnotationNote
	if err := tx.Select("analysis_id").Where("annotation_id = ?", ann.ID).
		Find(&existing).Error; err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n.AnalysisID] = true
	}
	want := make(map[string]bool, len(desired))
	for _, t := range desired {
		want[t.AnalysisID] = true
		if have[t.AnalysisID] {
			continue
		}
		note := &types.AnnotationNote{
			AnnotationID: ann.ID,
			AnalysisID:   t.AnalysisID,
			StudyID:      t.StudyID,
			StudysetID:   *ann.StudysetID,
			Note:         blankNote(ann.NoteKeys),
		}
		if err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(note).Error; err != nil {
			return err
		}
	}
	for _, n := range existing {
		if !want[n.AnalysisID] {
			if err := tx.Where("annotation_id = ? AND analysis_id = ?", ann.ID, n.AnalysisID).
				Delete(&types.AnnotationNote{}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// SyncStudysetStudies reconciles every annotation attached to the studyset
// after its membership changed.
func (s *annotationService) SyncStudysetStudies(tx *gorm.DB, studysetID string) error {
	var anns []*types.Annotation
	if err := tx.Where("studyset_id = ?", studysetID).Find(&anns).Error; err != nil {
		return err
	}
	for _, ann := range anns {
		if err := s.ensureNotes(tx, ann); err != nil {
			return err
		}
	}
	return nil
}

// SyncStudyAnalyses reconciles annotations in every studyset containing the
// study after the study's analysis list changed.
func (s *annotationService) SyncStudyAnalyses(tx *gorm.DB, studyID string) error {
	var links []*types.StudysetStudy
	if err := tx.Where("study_id = ?", studyID).Find(&links).Error; err != nil {
		return err
	}
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		if seen[l.StudysetID] {
			continue
		}
		seen[l.StudysetID] = true
		if err := s.SyncStudysetStudies(tx, l.StudysetID); err != nil {
			return err
		}
	}
	return nil
}

// ExportCSV renders the annotation's notes as a flat table, one row per
// (study, analysis) pair and one column per declared key.
func (s *annotationService) ExportCSV(db *gorm.DB, ann *types.Annotation) ([]byte, error) {
	var notes []*types.AnnotationNote
	if err := db.Where("annotation_id = ?", ann.ID).
		Order("study_id, analysis_id").Find(&notes).Error; err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ann.NoteKeys))
	for k := range ann.NoteKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append([]string{"study_id", "analysis_id"}, keys...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, n := range notes {
		row := []string{n.StudyID, n.AnalysisID}
		for _, k := range keys {
			v := n.Note[k]
			if v == nil {
				row = append(row, "")
				continue
			}
			row = append(row, fmt.Sprintf("%v", v))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
