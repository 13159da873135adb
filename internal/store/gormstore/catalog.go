package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalog implements ledger.Catalog over the content_items table.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog returns a Catalog backed by gorm.DB.
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (catalog *Catalog) LookupContent(ctx context.Context, ref ledger.ContentRef) (ledger.Content, error) {
	var model ContentItem
	err := catalog.db.WithContext(ctx).
		Where("content_type = ? AND content_id = ?", ref.Type.String(), ref.ID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Content{}, wrapStoreError(errorSubjectContent, errorCodeLookup, fmt.Errorf("%w: %s", ledger.ErrContentNotFound, ref))
		}
		return ledger.Content{}, wrapStoreError(errorSubjectContent, errorCodeLookup, err)
	}
	content, err := mapContent(model)
	if err != nil {
		return ledger.Content{}, wrapStoreError(errorSubjectContent, errorCodeInvalid, err)
	}
	return content, nil
}

// ListSeriesVideos returns every video that belongs to the series, ordered by id.
func (catalog *Catalog) ListSeriesVideos(ctx context.Context, seriesID ledger.ContentID) ([]ledger.Content, error) {
	var rows []ContentItem
	err := catalog.db.WithContext(ctx).
		Where("content_type = ? AND series_id = ?", ledger.ContentTypeVideo.String(), seriesID.String()).
		Order("content_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectContent, errorCodeList, err)
	}
	videos := make([]ledger.Content, 0, len(rows))
	for _, row := range rows {
		video, err := mapContent(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectContent, errorCodeInvalid, err)
		}
		videos = append(videos, video)
	}
	return videos, nil
}

// UpsertContent inserts or replaces catalog rows.
func (catalog *Catalog) UpsertContent(ctx context.Context, items ...ledger.Content) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]ContentItem, 0, len(items))
	for _, item := range items {
		row := ContentItem{
			ContentType: item.Ref.Type.String(),
			ContentID:   item.Ref.ID.String(),
			Title:       item.Title,
			Price:       item.Price.Int64(),
			CreatorID:   item.CreatorID.String(),
			Active:      item.Active,
			UpdatedAt:   now,
		}
		if item.SeriesID != nil {
			seriesID := item.SeriesID.String()
			row.SeriesID = &seriesID
		}
		rows = append(rows, row)
	}
	err := catalog.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_type"}, {Name: "content_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "price", "creator_id", "series_id", "active", "updated_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return wrapStoreError(errorSubjectContent, errorCodeUpsert, err)
	}
	return nil
}
