// Package audit keeps the append-only log of quotes fetched from upstream.
package audit

import (
	"context"
	"fmt"

	"coin-price-proxy/internal/models"
	"gorm.io/gorm"
)

// Recorder appends one QuoteRecord and returns the id the store assigned to it.
type Recorder interface {
	Append(ctx context.Context, record models.QuoteRecord) (uint, error)
}

// Store is the gorm-backed audit log.
type Store struct {
	db *gorm.DB
}

var _ Recorder = (*Store)(nil)

// NewStore creates a Store. The quote_records table must already be migrated.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append inserts record. Any ID set by the caller is ignored.
func (s *Store) Append(ctx context.Context, record models.QuoteRecord) (uint, error) {
	record.ID = 0
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, fmt.Errorf("failed to append quote record: %w", err)
	}
	return record.ID, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.QuoteRecord, error) {
	var records []models.QuoteRecord
	if err := s.db.WithContext(ctx).Order("queried_at desc, id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list quote records: %w", err)
	}
	return records, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
