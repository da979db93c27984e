package types

type User struct {
	Base
	ExternalID string `gorm:"column:external_id;uniqueIndex;not null" json:"external_id"`
	Name       string `gorm:"column:name" json:"name,omitempty"`
}

func (User) TableName() string { return "users" }
