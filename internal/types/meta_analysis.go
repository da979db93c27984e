package types

type MetaAnalysis struct {
	Base
	Ownership
	Name               string                `gorm:"column:name;index" json:"name"`
	Description        string                `gorm:"column:description" json:"description,omitempty"`
	ProjectID          *string               `gorm:"column:project_id;index" json:"project_id,omitempty"`
	SpecificationID    *string               `gorm:"column:specification_id;index" json:"specification_id,omitempty"`
	Specification      *Specification        `gorm:"foreignKey:SpecificationID;references:ID" json:"specification,omitempty"`
	CachedStudysetID   *string               `gorm:"column:cached_studyset_id;index" json:"cached_studyset_id,omitempty"`
	CachedStudyset     *CachedStudyset       `gorm:"foreignKey:CachedStudysetID;references:ID" json:"studyset,omitempty"`
	CachedAnnotationID *string               `gorm:"column:cached_annotation_id;index" json:"cached_annotation_id,omitempty"`
	CachedAnnotation   *CachedAnnotation     `gorm:"foreignKey:CachedAnnotationID;references:ID" json:"annotation,omitempty"`
	Results            []*MetaAnalysisResult `gorm:"foreignKey:MetaAnalysisID;references:ID;constraint:OnDelete:CASCADE" json:"results,omitempty"`
	NeurostoreAnalysis *NeurostoreAnalysis   `gorm:"foreignKey:MetaAnalysisID;references:ID;constraint:OnDelete:CASCADE" json:"neurostore_analysis,omitempty"`
}

func (MetaAnalysis) TableName() string { return "meta_analyses" }
