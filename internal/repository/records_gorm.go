package repository

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openstable/cdpcore/internal/model"
)

// RecordStore keeps the append-only liquidation/settlement result records.
// Records are reporting data, not protocol state, so they live outside the
// write-through state tables.
type RecordStore struct {
	db *gorm.DB
}

func NewRecordStore(dsn string) (*RecordStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open records db: %w", err)
	}
	if err := db.AutoMigrate(&model.LiquidationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate records schema: %w", err)
	}
	return &RecordStore{db: db}, nil
}

func (s *RecordStore) Insert(ctx context.Context, rec *model.LiquidationRecord) error {
	if rec == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// RecordFilter narrows a record listing; zero values mean no filter.
type RecordFilter struct {
	CollateralType string
	Owner          string
	Strategy       string
	Limit          int
	Offset         int
}

func (s *RecordStore) List(ctx context.Context, f RecordFilter) ([]model.LiquidationRecord, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	q := s.db.WithContext(ctx).Model(&model.LiquidationRecord{})
	if f.CollateralType != "" {
		q = q.Where("collateral_type = ?", f.CollateralType)
	}
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.Strategy != "" {
		q = q.Where("strategy = ?", f.Strategy)
	}
	var out []model.LiquidationRecord
	err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, err
}
