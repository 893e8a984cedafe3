// Package app implements the upload pipeline and the record query
// operations behind the HTTP surface.
package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"saleschat/internal/ownership"
	"saleschat/pkg/domain"
	"saleschat/pkg/events"
	"saleschat/pkg/storage"
	"saleschat/pkg/store"
)

const storageTimeout = 15 * time.Second

// App wires object storage, the record store and the ownership policy.
type App struct {
	store   store.Store
	objects storage.ObjectStore
	policy  ownership.Policy
	events  events.Publisher

	// activationMu is the file-activation-lock: it serializes the
	// deactivate-all-then-insert sequence of the single-active policy
	// within this process.
	activationMu sync.Mutex
}

// Config holds the application dependencies.
type Config struct {
	Store   store.Store
	Objects storage.ObjectStore
	Policy  ownership.Policy
	Events  events.Publisher
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("ownership policy required")
	}
	return &App{
		store:   cfg.Store,
		objects: cfg.Objects,
		policy:  cfg.Policy,
		events:  cfg.Events,
	}, nil
}

// Policy returns the resolved ownership policy.
func (a *App) Policy() ownership.Policy {
	return a.policy
}

// UploadInput carries one incoming file.
type UploadInput struct {
	Reader      io.Reader
	FileName    string
	ContentType string
	OwnerToken  string
}

// Upload validates the file, stores its bytes, and persists exactly
// one record on success. The storage call fully precedes the record
// write; a storage failure creates no record, and a record failure
// removes the just-written object.
func (a *App) Upload(ctx context.Context, in UploadInput) (domain.FileRecord, error) {
	if in.Reader == nil || strings.TrimSpace(in.FileName) == "" {
		return domain.FileRecord{}, ErrMissingFile
	}
	if !strings.Contains(in.ContentType, "csv") {
		return domain.FileRecord{}, ErrNotCSV
	}
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return domain.FileRecord{}, ErrMissingFile
	}

	id := uuid.NewString()
	storageKey := buildStorageKey(id, in.FileName)

	putCtx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	url, err := a.objects.Put(putCtx, storageKey, bytes.NewReader(data), int64(len(data)), in.ContentType)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	rec := domain.FileRecord{
		ID:         id,
		FileName:   filepath.Base(in.FileName),
		FileURL:    url,
		FileType:   in.ContentType,
		StorageKey: storageKey,
		Columns:    sniffColumns(data),
		SizeBytes:  int64(len(data)),
		UploadedAt: time.Now().UTC(),
	}
	a.policy.TagNewRecord(&rec, in.OwnerToken)

	if err := a.persist(rec); err != nil {
		delCtx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()
		if derr := a.objects.Delete(delCtx, storageKey); derr != nil {
			slog.Error("orphan object left after failed record write", "key", storageKey, "err", derr)
		}
		return domain.FileRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	a.publishUploaded(ctx, rec)
	return rec, nil
}

func (a *App) persist(rec domain.FileRecord) error {
	if a.policy.Name() == ownership.PolicySingleActive {
		a.activationMu.Lock()
		defer a.activationMu.Unlock()
	}
	return a.policy.Persist(a.store, rec)
}

func (a *App) publishUploaded(ctx context.Context, rec domain.FileRecord) {
	if a.events == nil {
		return
	}
	err := a.events.PublishUploaded(ctx, events.FileUploaded{
		FileID:     rec.ID,
		FileName:   rec.FileName,
		FileURL:    rec.FileURL,
		OwnerToken: rec.OwnerToken,
		UploadedAt: rec.UploadedAt,
	})
	if err != nil {
		slog.Warn("upload event not published", "file_id", rec.ID, "err", err)
	}
}

// ListURLs returns the URLs visible under the active policy.
func (a *App) ListURLs(ownerToken string) ([]string, error) {
	files, err := a.store.ListFiles(a.policy.ScopeListing(ownerToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	urls := make([]string, 0, len(files))
	for _, f := range files {
		urls = append(urls, f.FileURL)
	}
	return urls, nil
}

// ListByOwner returns all records tagged with the given owner token,
// newest first.
func (a *App) ListByOwner(ownerToken string) ([]domain.FileRecord, error) {
	files, err := a.store.ListFiles(store.Listing{OwnerToken: ownerToken, MatchOwnerExactly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return files, nil
}

// GetURL returns the stored URL for one record.
func (a *App) GetURL(id string) (string, error) {
	rec, ok, err := a.store.GetFile(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return "", ErrNotFound
	}
	return rec.FileURL, nil
}

// Find returns the first record matching the query. An empty query is
// a caller error detected before any lookup runs.
func (a *App) Find(q store.FileQuery) (domain.FileRecord, error) {
	if q.Empty() {
		return domain.FileRecord{}, ErrEmptyQuery
	}
	rec, ok, err := a.store.FindFile(q)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return domain.FileRecord{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record and best-effort removes the stored object,
// returning the pre-deletion snapshot.
func (a *App) Delete(ctx context.Context, id string) (domain.FileRecord, error) {
	rec, ok, err := a.store.DeleteFile(id)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return domain.FileRecord{}, ErrNotFound
	}
	if rec.StorageKey != "" {
		delCtx, cancel := context.WithTimeout(ctx, storageTimeout)
		defer cancel()
		if derr := a.objects.Delete(delCtx, rec.StorageKey); derr != nil {
			slog.Warn("stored object not removed with record", "file_id", id, "err", derr)
		}
	}
	return rec, nil
}

// sniffColumns reads the header row of the CSV. Parse failures are
// non-fatal; the record simply carries no column names.
func sniffColumns(data []byte) []string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil
	}
	cols := make([]string, 0, len(header))
	for _, col := range header {
		cols = append(cols, strings.TrimSpace(col))
	}
	return cols
}

func buildStorageKey(id, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "upload.csv"
	}
	return path.Join("files", id, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
