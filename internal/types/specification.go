package types

import (
	"gorm.io/datatypes"
)

type Specification struct {
	Base
	Ownership
	Type      string            `gorm:"column:type;index" json:"type"`
	Estimator datatypes.JSONMap `gorm:"column:estimator" json:"estimator,omitempty"`
	Mask      string            `gorm:"column:mask" json:"mask,omitempty"`
	Contrast  string            `gorm:"column:contrast" json:"contrast,omitempty"`
	Corrector datatypes.JSONMap `gorm:"column:corrector" json:"corrector,omitempty"`
	Filter    string            `gorm:"column:filter" json:"filter,omitempty"`
}

func (Specification) TableName() string { return "specifications" }
