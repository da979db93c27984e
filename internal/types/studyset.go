package types

import (
	"gorm.io/datatypes"
)

type Studyset struct {
	Base
	Ownership
	Provenance
	Name        string            `gorm:"column:name;index" json:"name"`
	Description string            `gorm:"column:description" json:"description,omitempty"`
	Publication string            `gorm:"column:publication" json:"publication,omitempty"`
	Authors     string            `gorm:"column:authors" json:"authors,omitempty"`
	DOI         string            `gorm:"column:doi;index" json:"doi,omitempty"`
	PMID        string            `gorm:"column:pmid;index" json:"pmid,omitempty"`
	Public      bool              `gorm:"column:public" json:"public"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	Studies     []*Study          `gorm:"many2many:studyset_studies;joinForeignKey:StudysetID;joinReferences:StudyID" json:"studies,omitempty"`
	Annotations []*Annotation     `gorm:"foreignKey:StudysetID;references:ID;constraint:OnDelete:CASCADE" json:"annotations,omitempty"`
}

func (Studyset) TableName() string { return "studysets" }

// StudysetStudy is the membership row linking a study into a studyset.
// Annotation notes hang off this tuple, so removing a membership removes the
// notes for every analysis of that study under every attached annotation.
type StudysetStudy struct {
	StudysetID string    `gorm:"column:studyset_id;primaryKey;index" json:"studyset_id"`
	StudyID    string    `gorm:"column:study_id;primaryKey;index" json:"study_id"`
	Studyset   *Studyset `gorm:"foreignKey:StudysetID;references:ID;constraint:OnDelete:CASCADE" json:"studyset,omitempty"`
	Study      *Study    `gorm:"foreignKey:StudyID;references:ID;constraint:OnDelete:CASCADE" json:"study,omitempty"`
}

func (StudysetStudy) TableName() string { return "studyset_studies" }
