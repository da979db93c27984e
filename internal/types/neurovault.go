package types

// Upload task states for NeurovaultFile and the companion-store sync records.
const (
	SyncStatusPending = "PENDING"
	SyncStatusOK      = "OK"
	SyncStatusFailed  = "FAILED"
)

type NeurovaultCollection struct {
	Base
	Ownership
	ResultID     *string           `gorm:"column:result_id;index" json:"result_id,omitempty"`
	CollectionID *int              `gorm:"column:collection_id;index" json:"collection_id,omitempty"`
	Files        []*NeurovaultFile `gorm:"foreignKey:CollectionID;references:ID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

func (NeurovaultCollection) TableName() string { return "neurovault_collections" }

type NeurovaultFile struct {
	Base
	Ownership
	CollectionID *string `gorm:"column:collection_id;index" json:"collection_id,omitempty"`
	ImageID      *int    `gorm:"column:image_id" json:"image_id,omitempty"`
	URL          string  `gorm:"column:url" json:"url,omitempty"`
	Filename     string  `gorm:"column:filename" json:"filename,omitempty"`
	Space        string  `gorm:"column:space" json:"space,omitempty"`
	ValueType    string  `gorm:"column:value_type" json:"value_type,omitempty"`
	Status       string  `gorm:"column:status;default:PENDING" json:"status"`
	Traceback    string  `gorm:"column:traceback" json:"traceback,omitempty"`
}

func (NeurovaultFile) TableName() string { return "neurovault_files" }
