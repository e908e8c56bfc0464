package store

import (
	"time"

	"gorm.io/gorm"
)

type Event struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	EventID     string `gorm:"uniqueIndex:idx_event_key,priority:2"`
	Kind        string `gorm:"uniqueIndex:idx_event_key,priority:1;index"`
	Contract    string `gorm:"index"`
	BlockNumber uint64 `gorm:"index"`
	TxHash      string `gorm:"index"`
	Timestamp   int64  `gorm:"index"` // unix ms, whatever unit the source used
	Raw         []byte // frame data as received
}

// Cursor remembers the highest block seen so a restart can report where the
// previous run stopped.
type Cursor struct {
	gorm.Model
	LastBlock uint64
}
