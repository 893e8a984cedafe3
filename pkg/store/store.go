package store

import (
	"errors"
	"time"

	"saleschat/pkg/domain"
)

// ErrNotFound reports that no record matched.
var ErrNotFound = errors.New("record not found")

// FileQuery filters FindFile. At least one field must be set.
type FileQuery struct {
	ID       string
	FileName string
	FileURL  string
}

// Empty reports whether no filter field is set.
func (q FileQuery) Empty() bool {
	return q.ID == "" && q.FileName == "" && q.FileURL == ""
}

// Listing scopes ListFiles to the running ownership policy.
// ActiveOnly and OwnerToken are never combined; the zero value lists
// everything. MatchOwnerExactly filters on OwnerToken even when it is
// empty, so a caller whose token resolution degraded sees only
// ownerless records, never another owner's.
type Listing struct {
	ActiveOnly        bool
	OwnerToken        string
	MatchOwnerExactly bool
}

// Store defines persistence operations for file records and visitors.
type Store interface {
	// files
	SaveFile(domain.FileRecord) error
	// DeactivateAllThenSave flips every active record to inactive and
	// inserts rec (marked active) as one atomic unit.
	DeactivateAllThenSave(rec domain.FileRecord) error
	FindFile(q FileQuery) (domain.FileRecord, bool, error)
	GetFile(id string) (domain.FileRecord, bool, error)
	ListFiles(l Listing) ([]domain.FileRecord, error)
	// DeleteFile removes the record and returns its pre-deletion snapshot.
	DeleteFile(id string) (domain.FileRecord, bool, error)

	// visitors
	SaveVisitor(domain.Visitor) error
	GetVisitor(ownerToken string) (domain.Visitor, bool, error)
	CountVisitors() (int64, error)
	CountVisitorsActiveSince(t time.Time) (int64, error)
}

// HistoryStore persists per-file chat history. Implementations must
// keep histories for different file ids fully isolated.
type HistoryStore interface {
	History(fileID string) ([]domain.Message, error)
	AppendMessage(fileID string, msg domain.Message) error
	ClearHistory(fileID string) error
}
