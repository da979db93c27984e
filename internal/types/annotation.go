package types

import (
	"gorm.io/datatypes"
)

// Annotation declares a key set (note_keys) and owns one AnnotationNote per
// (study, analysis) pair in its studyset. Note rows are derived data; clients
// never create them directly.
type Annotation struct {
	Base
	Ownership
	Provenance
	Name        string            `gorm:"column:name;index" json:"name"`
	Description string            `gorm:"column:description" json:"description,omitempty"`
	StudysetID  *string           `gorm:"column:studyset_id;index" json:"studyset_id,omitempty"`
	Studyset    *Studyset         `gorm:"foreignKey:StudysetID;references:ID;constraint:OnDelete:CASCADE" json:"studyset,omitempty"`
	Public      bool              `gorm:"column:public" json:"public"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	NoteKeys    datatypes.JSONMap `gorm:"column:note_keys" json:"note_keys"`
	Notes       []*AnnotationNote `gorm:"foreignKey:AnnotationID;references:ID;constraint:OnDelete:CASCADE" json:"notes,omitempty"`
}

func (Annotation) TableName() string { return "annotations" }

// AnnotationNote holds the per-analysis values for one annotation. Identified
// by the (annotation, analysis) tuple; carries the (studyset, study)
// membership tuple so membership removal cascades here.
type AnnotationNote struct {
	AnnotationID string            `gorm:"column:annotation_id;primaryKey;index" json:"annotation_id"`
	AnalysisID   string            `gorm:"column:analysis_id;primaryKey;index" json:"analysis_id"`
	StudyID      string            `gorm:"column:study_id;not null;index" json:"study_id"`
	StudysetID   string            `gorm:"column:studyset_id;not null;index" json:"studyset_id"`
	Note         datatypes.JSONMap `gorm:"column:note" json:"note"`
	Analysis     *Analysis         `gorm:"foreignKey:AnalysisID;references:ID;constraint:OnDelete:CASCADE" json:"analysis,omitempty"`
}

func (AnnotationNote) TableName() string { return "annotation_notes" }
