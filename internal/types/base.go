package types

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a 12 character lowercase base32 token derived from a random
// UUID. IDs are assigned once at creation and never reused.
func NewID() string {
	u := uuid.New()
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(u[:]))[:12]
}

// Base carries the columns shared by every id-addressable record.
type Base struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (b *Base) RecordID() string      { return b.ID }
func (b *Base) SetRecordID(id string) { b.ID = id }

func (b *Base) Timestamps() (created, updated time.Time) { return b.CreatedAt, b.UpdatedAt }

// Ownership marks a record as owned by the user whose external id is UserID.
// A nil UserID means unowned/system.
type Ownership struct {
	UserID *string `gorm:"column:user_id;index" json:"user_id,omitempty"`
}

func (o *Ownership) OwnerID() *string { return o.UserID }
func (o *Ownership) SetOwnerID(id string) {
	o.UserID = &id
}

// Provenance tracks where an externally ingested record came from, so clones
// can be chased back to their ultimate upstream origin.
type Provenance struct {
	Source          *string    `gorm:"column:source;index" json:"source,omitempty"`
	SourceID        *string    `gorm:"column:source_id;index" json:"source_id,omitempty"`
	SourceUpdatedAt *time.Time `gorm:"column:source_updated_at" json:"source_updated_at,omitempty"`
}

func (p *Provenance) SourceRef() (source, sourceID *string) { return p.Source, p.SourceID }
