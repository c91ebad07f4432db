package ledger

import (
	"context"
	"fmt"

	"cex-arbitrage-go/internal/models"
	"gorm.io/gorm"
)

// GormStore keeps the ledger in the application database (SQLite by default).
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Insert(ctx context.Context, rec models.TradeRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert trade record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, f Filter) ([]models.TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.TradeRecord{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.Strategy != "" {
		q = q.Where("strategy = ?", f.Strategy)
	}
	if !f.Since.IsZero() {
		q = q.Where("executed_at >= ?", f.Since)
	}

	var records []models.TradeRecord
	if err := q.Order("executed_at desc").Limit(f.limit()).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list trade records: %w", err)
	}
	return records, nil
}
