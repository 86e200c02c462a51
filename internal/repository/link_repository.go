package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// LinkRepository handles MySQL operations for links and click events
type LinkRepository struct {
	db   *gorm.DB
	inTx bool
}

// NewLinkRepository opens a MySQL connection pool and migrates the schema
func NewLinkRepository(dsn string, maxIdleConns, maxOpenConns int) (*LinkRepository, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)

	return NewLinkRepositoryFromDB(db)
}

// NewLinkRepositoryFromDB wraps an already opened gorm handle.
func NewLinkRepositoryFromDB(db *gorm.DB) (*LinkRepository, error) {
	if err := db.AutoMigrate(&model.Link{}, &model.ClickEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &LinkRepository{db: db}, nil
}

// FindLinkByCode retrieves a link by short code. Within a transaction the
// row is locked for update.
func (r *LinkRepository) FindLinkByCode(ctx context.Context, shortCode string) (*model.Link, error) {
	q := r.db.WithContext(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var link model.Link
	if err := q.Where("short_code = ?", shortCode).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}

// FindLinkByURL retrieves the oldest link pointing at originalURL
func (r *LinkRepository) FindLinkByURL(ctx context.Context, originalURL string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).
		Where("original_url = ?", originalURL).
		Order("id ASC").
		First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link by url: %w", err)
	}
	return &link, nil
}

// ListActiveLinksByURL returns every unexpired link pointing at originalURL
func (r *LinkRepository) ListActiveLinksByURL(ctx context.Context, originalURL string, now time.Time) ([]model.Link, error) {
	var links []model.Link
	if err := r.db.WithContext(ctx).
		Where("original_url = ?", originalURL).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("id ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to search links: %w", err)
	}
	return links, nil
}

// CreateLink inserts a new link
func (r *LinkRepository) CreateLink(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// UpdateLink saves every column of link
func (r *LinkRepository) UpdateLink(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(link).Error; err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	return nil
}

// DeleteLink removes a link and its click history
func (r *LinkRepository) DeleteLink(ctx context.Context, shortCode string) error {
	return r.WithinTx(ctx, func(tx Store) error {
		db := tx.(*LinkRepository).db.WithContext(ctx)

		var link model.Link
		if err := db.Select("id").Where("short_code = ?", shortCode).First(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to find link for delete: %w", err)
		}
		if err := db.Where("link_id = ?", link.ID).Delete(&model.ClickEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete click events: %w", err)
		}
		if err := db.Delete(&model.Link{}, link.ID).Error; err != nil {
			return fmt.Errorf("failed to delete link: %w", err)
		}
		return nil
	})
}

// AppendClickEvent records a click
func (r *LinkRepository) AppendClickEvent(ctx context.Context, event *model.ClickEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create click event: %w", err)
	}
	return nil
}

// RecentClicks returns the newest click events of a link
func (r *LinkRepository) RecentClicks(ctx context.Context, linkID uint, limit int) ([]model.ClickEvent, error) {
	var events []model.ClickEvent
	if err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent clicks: %w", err)
	}
	return events, nil
}

// ListExpiredLinks returns links whose expiry lies before now
func (r *LinkRepository) ListExpiredLinks(ctx context.Context, now time.Time) ([]model.Link, error) {
	var links []model.Link
	if err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list expired links: %w", err)
	}
	return links, nil
}

// AllShortCodes retrieves all short codes from the database
func (r *LinkRepository) AllShortCodes(ctx context.Context) ([]string, error) {
	var shortCodes []string
	if err := r.db.WithContext(ctx).Model(&model.Link{}).
		Pluck("short_code", &shortCodes).Error; err != nil {
		return nil, fmt.Errorf("failed to get all short codes: %w", err)
	}
	return shortCodes, nil
}

// WithinTx runs fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (r *LinkRepository) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LinkRepository{db: tx, inTx: true})
	})
}

// Ping checks the database connection
func (r *LinkRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *LinkRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
