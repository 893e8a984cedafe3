package domain

import "time"

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// FileRecord is the persisted metadata for one uploaded CSV file.
// OwnerToken and IsActive are populated by whichever ownership policy
// is running; the policies are mutually exclusive.
type FileRecord struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	FileURL    string    `json:"fileUrl"`
	FileType   string    `json:"fileType"`
	StorageKey string    `json:"-"`
	OwnerToken string    `json:"ownerToken,omitempty"`
	IsActive   bool      `json:"isActive,omitempty"`
	Columns    []string  `json:"columns,omitempty"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Message is one entry in a file's chat history. Timestamp is the
// display string supplied by the client; CreatedAt orders the history.
type Message struct {
	ID        string    `json:"id"`
	FileID    string    `json:"fileId"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp string    `json:"timestamp,omitempty"`
	IsError   bool      `json:"isError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Visitor tracks one browser identity for the visit counter.
type Visitor struct {
	OwnerToken string    `json:"ownerToken"`
	FirstVisit time.Time `json:"firstVisit"`
	LastVisit  time.Time `json:"lastVisit"`
	VisitCount int       `json:"visitCount"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

// VisitorStats summarizes visit counts for the counter endpoints.
type VisitorStats struct {
	TotalVisitors int64 `json:"totalVisitors"`
	ActiveToday   int64 `json:"activeToday"`
}
