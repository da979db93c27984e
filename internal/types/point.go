package types

type Point struct {
	Base
	Ownership
	AnalysisID *string       `gorm:"column:analysis_id;index" json:"analysis_id,omitempty"`
	X          *float64      `gorm:"column:x" json:"x,omitempty"`
	Y          *float64      `gorm:"column:y" json:"y,omitempty"`
	Z          *float64      `gorm:"column:z" json:"z,omitempty"`
	Space      string        `gorm:"column:space" json:"space,omitempty"`
	Kind       string        `gorm:"column:kind" json:"kind,omitempty"`
	Image      string        `gorm:"column:image" json:"image,omitempty"`
	LabelID    *float64      `gorm:"column:label_id" json:"label_id,omitempty"`
	Values     []*PointValue `gorm:"foreignKey:PointID;references:ID;constraint:OnDelete:CASCADE" json:"values,omitempty"`
}

func (Point) TableName() string { return "points" }

type PointValue struct {
	Base
	Ownership
	PointID *string  `gorm:"column:point_id;index" json:"point_id,omitempty"`
	Kind    string   `gorm:"column:kind" json:"kind,omitempty"`
	Value   *float64 `gorm:"column:value" json:"value,omitempty"`
	Dtype   string   `gorm:"column:dtype;default:str" json:"dtype,omitempty"`
}

func (PointValue) TableName() string { return "point_values" }
