package types

type MetaAnalysisResult struct {
	Base
	Ownership
	MetaAnalysisID      *string              `gorm:"column:meta_analysis_id;index" json:"meta_analysis_id,omitempty"`
	MethodDescription   string               `gorm:"column:method_description" json:"method_description,omitempty"`
	DiagnosticTable     string               `gorm:"column:diagnostic_table" json:"diagnostic_table,omitempty"`
	CLIVersion          string               `gorm:"column:cli_version" json:"cli_version,omitempty"`
	CLIArgs             string               `gorm:"column:cli_args" json:"cli_args,omitempty"`
	NeurovaultCollection *NeurovaultCollection `gorm:"foreignKey:ResultID;references:ID;constraint:OnDelete:CASCADE" json:"neurovault_collection,omitempty"`
}

func (MetaAnalysisResult) TableName() string { return "meta_analysis_results" }
