package types

type Condition struct {
	Base
	Ownership
	Name        string `gorm:"column:name;index" json:"name"`
	Description string `gorm:"column:description" json:"description,omitempty"`
}

func (Condition) TableName() string { return "conditions" }

// AnalysisCondition weights a condition within an analysis. It is identified
// by the (analysis, condition) tuple rather than a surrogate id.
type AnalysisCondition struct {
	AnalysisID  string     `gorm:"column:analysis_id;primaryKey" json:"analysis_id"`
	ConditionID string     `gorm:"column:condition_id;primaryKey" json:"condition_id"`
	Weight      *float64   `gorm:"column:weight" json:"weight,omitempty"`
	Condition   *Condition `gorm:"foreignKey:ConditionID;references:ID" json:"condition,omitempty"`
}

func (AnalysisCondition) TableName() string { return "analysis_conditions" }
