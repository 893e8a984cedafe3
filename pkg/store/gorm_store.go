package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"saleschat/pkg/domain"
)

const migrateLockID int64 = 52415241

// GormStore implements Store and HistoryStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory
// lock so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&FileModel{}, &MessageModel{}, &VisitorModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveFile inserts a new file record.
func (s *GormStore) SaveFile(rec domain.FileRecord) error {
	model := fileToModel(rec)
	return s.db.Create(&model).Error
}

// DeactivateAllThenSave flips every active record off and inserts rec
// inside a single transaction, keeping at most one record active.
func (s *GormStore) DeactivateAllThenSave(rec domain.FileRecord) error {
	model := fileToModel(rec)
	model.IsActive = true
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&FileModel{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
}

// FindFile returns the first record matching the supplied filters.
func (s *GormStore) FindFile(q FileQuery) (domain.FileRecord, bool, error) {
	if q.Empty() {
		return domain.FileRecord{}, false, nil
	}
	tx := s.db
	if q.ID != "" {
		tx = tx.Where("id = ?", q.ID)
	}
	if q.FileName != "" {
		tx = tx.Where("file_name = ?", q.FileName)
	}
	if q.FileURL != "" {
		tx = tx.Where("file_url = ?", q.FileURL)
	}
	var model FileModel
	if err := tx.First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// GetFile retrieves a file record by ID.
func (s *GormStore) GetFile(id string) (domain.FileRecord, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFiles returns records under the given scope, newest first.
func (s *GormStore) ListFiles(l Listing) ([]domain.FileRecord, error) {
	tx := s.db.Order("uploaded_at DESC")
	if l.ActiveOnly {
		tx = tx.Where("is_active = ?", true)
	}
	if l.MatchOwnerExactly || l.OwnerToken != "" {
		tx = tx.Where("owner_token = ?", l.OwnerToken)
	}
	var models []FileModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileRecord, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// DeleteFile removes the record and its chat history, returning the
// pre-deletion snapshot. The snapshot is read under a row lock inside
// the delete transaction, so concurrent deletes of one id report
// found exactly once.
func (s *GormStore) DeleteFile(id string) (domain.FileRecord, bool, error) {
	var model FileModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "file_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&FileModel{}, "id = ?", id).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// History returns the chronological chat history for a file.
func (s *GormStore) History(fileID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("file_id = ?", fileID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// AppendMessage records a message linked to a file.
func (s *GormStore) AppendMessage(fileID string, msg domain.Message) error {
	model := messageToModel(msg)
	model.FileID = fileID
	return s.db.Create(&model).Error
}

// ClearHistory removes all messages for a file.
func (s *GormStore) ClearHistory(fileID string) error {
	return s.db.Delete(&MessageModel{}, "file_id = ?", fileID).Error
}

// SaveVisitor inserts or replaces a visitor row.
func (s *GormStore) SaveVisitor(v domain.Visitor) error {
	model := visitorToModel(v)
	return s.db.Save(&model).Error
}

// GetVisitor looks up a visitor by owner token.
func (s *GormStore) GetVisitor(ownerToken string) (domain.Visitor, bool, error) {
	var model VisitorModel
	if err := s.db.First(&model, "owner_token = ?", ownerToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Visitor{}, false, nil
		}
		return domain.Visitor{}, false, err
	}
	return visitorFromModel(model), true, nil
}

// CountVisitors returns the number of unique visitors.
func (s *GormStore) CountVisitors() (int64, error) {
	var count int64
	if err := s.db.Model(&VisitorModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountVisitorsActiveSince counts visitors whose last visit is at or
// after t.
func (s *GormStore) CountVisitorsActiveSince(t time.Time) (int64, error) {
	var count int64
	if err := s.db.Model(&VisitorModel{}).
		Where("last_visit >= ?", t).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func fileToModel(rec domain.FileRecord) FileModel {
	cols, _ := json.Marshal(rec.Columns)
	return FileModel{
		ID:         rec.ID,
		FileName:   rec.FileName,
		FileURL:    rec.FileURL,
		FileType:   rec.FileType,
		StorageKey: rec.StorageKey,
		OwnerToken: rec.OwnerToken,
		IsActive:   rec.IsActive,
		Columns:    datatypes.JSON(cols),
		SizeBytes:  rec.SizeBytes,
		UploadedAt: rec.UploadedAt,
	}
}

func fileFromModel(m FileModel) domain.FileRecord {
	var cols []string
	if len(m.Columns) > 0 {
		_ = json.Unmarshal(m.Columns, &cols)
	}
	return domain.FileRecord{
		ID:         m.ID,
		FileName:   m.FileName,
		FileURL:    m.FileURL,
		FileType:   m.FileType,
		StorageKey: m.StorageKey,
		OwnerToken: m.OwnerToken,
		IsActive:   m.IsActive,
		Columns:    cols,
		SizeBytes:  m.SizeBytes,
		UploadedAt: m.UploadedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		FileID:    msg.FileID,
		Sender:    string(msg.Sender),
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		IsError:   msg.IsError,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		FileID:    m.FileID,
		Text:      m.Text,
		Sender:    domain.Sender(m.Sender),
		Timestamp: m.Timestamp,
		IsError:   m.IsError,
		CreatedAt: m.CreatedAt,
	}
}

func visitorToModel(v domain.Visitor) VisitorModel {
	return VisitorModel{
		OwnerToken: v.OwnerToken,
		FirstVisit: v.FirstVisit,
		LastVisit:  v.LastVisit,
		VisitCount: v.VisitCount,
		UserAgent:  v.UserAgent,
	}
}

func visitorFromModel(m VisitorModel) domain.Visitor {
	return domain.Visitor{
		OwnerToken: m.OwnerToken,
		FirstVisit: m.FirstVisit,
		LastVisit:  m.LastVisit,
		VisitCount: m.VisitCount,
		UserAgent:  m.UserAgent,
	}
}
