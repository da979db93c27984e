package types

import (
	"gorm.io/datatypes"
)

type Study struct {
	Base
	Ownership
	Provenance
	Name        string            `gorm:"column:name;index" json:"name"`
	Description string            `gorm:"column:description" json:"description,omitempty"`
	Publication string            `gorm:"column:publication" json:"publication,omitempty"`
	DOI         string            `gorm:"column:doi;index" json:"doi,omitempty"`
	PMID        string            `gorm:"column:pmid;index" json:"pmid,omitempty"`
	Authors     string            `gorm:"column:authors" json:"authors,omitempty"`
	Year        *int              `gorm:"column:year" json:"year,omitempty"`
	Public      bool              `gorm:"column:public" json:"public"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	Analyses    []*Analysis       `gorm:"foreignKey:StudyID;references:ID;constraint:OnDelete:CASCADE" json:"analyses,omitempty"`
}

func (Study) TableName() string { return "studies" }
