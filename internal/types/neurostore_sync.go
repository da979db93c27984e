package types

// NeurostoreStudy and NeurostoreAnalysis record the state of pushing a
// project / meta-analysis into the companion data store. Collaborator
// failures land here as status + traceback instead of failing the request
// that triggered the push.

type NeurostoreStudy struct {
	Base
	ProjectID    *string `gorm:"column:project_id;index" json:"project_id,omitempty"`
	NeurostoreID string  `gorm:"column:neurostore_id;index" json:"neurostore_id,omitempty"`
	Status       string  `gorm:"column:status;default:PENDING" json:"status"`
	Traceback    string  `gorm:"column:traceback" json:"traceback,omitempty"`
}

func (NeurostoreStudy) TableName() string { return "neurostore_studies" }

type NeurostoreAnalysis struct {
	Base
	MetaAnalysisID    *string `gorm:"column:meta_analysis_id;index" json:"meta_analysis_id,omitempty"`
	NeurostoreStudyID *string `gorm:"column:neurostore_study_id;index" json:"neurostore_study_id,omitempty"`
	NeurostoreID      string  `gorm:"column:neurostore_id;index" json:"neurostore_id,omitempty"`
	Status            string  `gorm:"column:status;default:PENDING" json:"status"`
	Traceback         string  `gorm:"column:traceback" json:"traceback,omitempty"`
}

func (NeurostoreAnalysis) TableName() string { return "neurostore_analyses" }
