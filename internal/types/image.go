package types

import (
	"time"

	"gorm.io/datatypes"
)

type Image struct {
	Base
	Ownership
	AnalysisID *string           `gorm:"column:analysis_id;index" json:"analysis_id,omitempty"`
	URL        string            `gorm:"column:url" json:"url,omitempty"`
	Filename   string            `gorm:"column:filename;index" json:"filename,omitempty"`
	Space      string            `gorm:"column:space;index" json:"space,omitempty"`
	ValueType  string            `gorm:"column:value_type;index" json:"value_type,omitempty"`
	Data       datatypes.JSONMap `gorm:"column:data" json:"data,omitempty"`
	AddDate    *time.Time        `gorm:"column:add_date" json:"add_date,omitempty"`
}

func (Image) TableName() string { return "images" }
