package types

import (
	"gorm.io/datatypes"
)

type Project struct {
	Base
	Ownership
	Name            string           `gorm:"column:name;index" json:"name"`
	Description     string           `gorm:"column:description" json:"description,omitempty"`
	Provenance      datatypes.JSON   `gorm:"column:provenance" json:"provenance,omitempty"`
	Public          bool             `gorm:"column:public" json:"public"`
	MetaAnalyses    []*MetaAnalysis  `gorm:"foreignKey:ProjectID;references:ID;constraint:OnDelete:CASCADE" json:"meta_analyses,omitempty"`
	NeurostoreStudy *NeurostoreStudy `gorm:"foreignKey:ProjectID;references:ID;constraint:OnDelete:CASCADE" json:"neurostore_study,omitempty"`
}

func (Project) TableName() string { return "projects" }
