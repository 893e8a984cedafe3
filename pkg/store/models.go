package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type FileModel struct {
	ID         string `gorm:"primaryKey"`
	FileName   string `gorm:"not null"`
	FileURL    string `gorm:"not null"`
	FileType   string `gorm:"not null"`
	StorageKey string `gorm:"not null"`
	OwnerToken string `gorm:"index"`
	IsActive   bool   `gorm:"index"`
	Columns    datatypes.JSON
	SizeBytes  int64
	UploadedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID        string `gorm:"primaryKey"`
	FileID    string `gorm:"not null;index"`
	Sender    string `gorm:"not null"`
	Text      string `gorm:"not null"`
	Timestamp string
	IsError   bool
	CreatedAt time.Time `gorm:"not null;index"`
}

type VisitorModel struct {
	OwnerToken string    `gorm:"primaryKey"`
	FirstVisit time.Time `gorm:"not null"`
	LastVisit  time.Time `gorm:"not null;index"`
	VisitCount int       `gorm:"not null"`
	UserAgent  string
}
