package types

type Analysis struct {
	Base
	Ownership
	StudyID            *string              `gorm:"column:study_id;index" json:"study_id,omitempty"`
	Name               string               `gorm:"column:name;index" json:"name"`
	Description        string               `gorm:"column:description" json:"description,omitempty"`
	Points             []*Point             `gorm:"foreignKey:AnalysisID;references:ID;constraint:OnDelete:CASCADE" json:"points,omitempty"`
	Images             []*Image             `gorm:"foreignKey:AnalysisID;references:ID;constraint:OnDelete:CASCADE" json:"images,omitempty"`
	AnalysisConditions []*AnalysisCondition `gorm:"foreignKey:AnalysisID;references:ID;constraint:OnDelete:CASCADE" json:"analysis_conditions,omitempty"`
}

func (Analysis) TableName() string { return "analyses" }
