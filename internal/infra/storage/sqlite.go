package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"mep_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Journal persists executed MEP operations. It is append-mostly: a row is
// written when both legs are sent, and updated once if the second leg fails.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (or creates) the SQLite journal at path.
func NewJournal(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// Pure Go SQLite, no cgo
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.AutoMigrate(&domain.ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one executed operation.
func (j *Journal) Record(rec *domain.ExecutionRecord) error {
	return j.db.Create(rec).Error
}

// ByTenant returns a tenant's operations, newest first, up to limit rows.
func (j *Journal) ByTenant(tenant string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []domain.ExecutionRecord
	err := j.db.
		Where("tenant = ?", tenant).
		Order("executed_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Partials returns every operation that stopped after the first leg.
func (j *Journal) Partials() ([]domain.ExecutionRecord, error) {
	var recs []domain.ExecutionRecord
	err := j.db.Where("partial = ?", true).Order("executed_at DESC").Find(&recs).Error
	return recs, err
}
