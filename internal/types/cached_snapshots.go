package types

import (
	"gorm.io/datatypes"
)

// CachedStudyset pins a point-in-time snapshot of a companion-store studyset
// for a meta-analysis to run against.
type CachedStudyset struct {
	Base
	Ownership
	StudysetReferenceID *string            `gorm:"column:studyset_reference_id;index" json:"studyset_reference_id,omitempty"`
	StudysetReference   *StudysetReference `gorm:"foreignKey:StudysetReferenceID;references:ID" json:"studyset_reference,omitempty"`
	Version             string             `gorm:"column:version" json:"version,omitempty"`
	Snapshot            datatypes.JSON     `gorm:"column:snapshot" json:"snapshot,omitempty"`
}

func (CachedStudyset) TableName() string { return "cached_studysets" }

type CachedAnnotation struct {
	Base
	Ownership
	AnnotationReferenceID *string              `gorm:"column:annotation_reference_id;index" json:"annotation_reference_id,omitempty"`
	AnnotationReference   *AnnotationReference `gorm:"foreignKey:AnnotationReferenceID;references:ID" json:"annotation_reference,omitempty"`
	Snapshot              datatypes.JSON       `gorm:"column:snapshot" json:"snapshot,omitempty"`
}

func (CachedAnnotation) TableName() string { return "cached_annotations" }
