// Package catalogcache adds a read-through cache in front of a ledger.Catalog.
// Only catalog metadata is cached; balances and grants are always read from the store.
package catalogcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefixContent = "catalog:content"
	keyPrefixSeries  = "catalog:series"

	DefaultTTL = time.Minute
)

// ErrInvalidConfig is returned when the cache is wired without its collaborators.
var ErrInvalidConfig = errors.New("catalogcache: invalid configuration")

// Catalog decorates a backing catalog with a TTL cache.
type Catalog struct {
	backing ledger.Catalog
	cache   Cache
	ttl     time.Duration
	logger  *zap.Logger
	group   singleflight.Group
}

// New wires a caching Catalog. A non-positive ttl falls back to DefaultTTL.
func New(backing ledger.Catalog, cache Cache, ttl time.Duration, logger *zap.Logger) (*Catalog, error) {
	if backing == nil {
		return nil, fmt.Errorf("%w: backing catalog is nil", ErrInvalidConfig)
	}
	if cache == nil {
		return nil, fmt.Errorf("%w: cache is nil", ErrInvalidConfig)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{backing: backing, cache: cache, ttl: ttl, logger: logger}, nil
}

func (catalog *Catalog) LookupContent(ctx context.Context, ref ledger.ContentRef) (ledger.Content, error) {
	key := contentKey(ref)
	if records, ok := catalog.read(ctx, key); ok && len(records) == 1 {
		if content, err := records[0].content(); err == nil {
			return content, nil
		}
		catalog.evict(ctx, key)
	}
	value, err, _ := catalog.group.Do(key, func() (interface{}, error) {
		content, err := catalog.backing.LookupContent(ctx, ref)
		if err != nil {
			return nil, err
		}
		catalog.write(ctx, key, []ledger.Content{content})
		return content, nil
	})
	if err != nil {
		return ledger.Content{}, err
	}
	return value.(ledger.Content), nil
}

func (catalog *Catalog) ListSeriesVideos(ctx context.Context, seriesID ledger.ContentID) ([]ledger.Content, error) {
	key := seriesKey(seriesID)
	if records, ok := catalog.read(ctx, key); ok {
		videos, err := contentsFromRecords(records)
		if err == nil {
			return videos, nil
		}
		catalog.evict(ctx, key)
	}
	value, err, _ := catalog.group.Do(key, func() (interface{}, error) {
		videos, err := catalog.backing.ListSeriesVideos(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		catalog.write(ctx, key, videos)
		return videos, nil
	})
	if err != nil {
		return nil, err
	}
	shared := value.([]ledger.Content)
	return append([]ledger.Content(nil), shared...), nil
}

// Invalidate drops the cached item and, for videos in a series, the series listing.
func (catalog *Catalog) Invalidate(ctx context.Context, content ledger.Content) error {
	keys := []string{contentKey(content.Ref)}
	if content.SeriesID != nil {
		keys = append(keys, seriesKey(*content.SeriesID))
	}
	if content.Ref.Type == ledger.ContentTypeSeries {
		keys = append(keys, seriesKey(content.Ref.ID))
	}
	var joined error
	for _, key := range keys {
		joined = errors.Join(joined, catalog.cache.Delete(ctx, key))
	}
	return joined
}

func (catalog *Catalog) read(ctx context.Context, key string) ([]contentRecord, bool) {
	raw, ok, err := catalog.cache.Get(ctx, key)
	if err != nil {
		catalog.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var records []contentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		catalog.logger.Warn("catalog cache entry corrupted", zap.String("key", key), zap.Error(err))
		catalog.evict(ctx, key)
		return nil, false
	}
	return records, true
}

func (catalog *Catalog) write(ctx context.Context, key string, items []ledger.Content) {
	records := make([]contentRecord, 0, len(items))
	for _, item := range items {
		records = append(records, recordFromContent(item))
	}
	raw, err := json.Marshal(records)
	if err != nil {
		catalog.logger.Warn("catalog cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := catalog.cache.Set(ctx, key, raw, catalog.ttl); err != nil {
		catalog.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (catalog *Catalog) evict(ctx context.Context, key string) {
	if err := catalog.cache.Delete(ctx, key); err != nil {
		catalog.logger.Warn("catalog cache evict failed", zap.String("key", key), zap.Error(err))
	}
}

func contentKey(ref ledger.ContentRef) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefixContent, ref.Type, ref.ID)
}

func seriesKey(seriesID ledger.ContentID) string {
	return fmt.Sprintf("%s:%s", keyPrefixSeries, seriesID)
}

type contentRecord struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Price     int64  `json:"price"`
	CreatorID string `json:"creator_id"`
	SeriesID  string `json:"series_id,omitempty"`
	Active    bool   `json:"active"`
}

func recordFromContent(content ledger.Content) contentRecord {
	record := contentRecord{
		Type:      content.Ref.Type.String(),
		ID:        content.Ref.ID.String(),
		Title:     content.Title,
		Price:     content.Price.Int64(),
		CreatorID: content.CreatorID.String(),
		Active:    content.Active,
	}
	if content.SeriesID != nil {
		record.SeriesID = content.SeriesID.String()
	}
	return record
}

func (record contentRecord) content() (ledger.Content, error) {
	ref, err := ledger.NewContentRef(record.Type, record.ID)
	if err != nil {
		return ledger.Content{}, err
	}
	price, err := ledger.NewCoins(record.Price)
	if err != nil {
		return ledger.Content{}, err
	}
	creatorID, err := ledger.NewUserID(record.CreatorID)
	if err != nil {
		return ledger.Content{}, err
	}
	content := ledger.Content{Ref: ref, Title: record.Title, Price: price, CreatorID: creatorID, Active: record.Active}
	if record.SeriesID != "" {
		seriesID, err := ledger.NewContentID(record.SeriesID)
		if err != nil {
			return ledger.Content{}, err
		}
		content.SeriesID = &seriesID
	}
	return content, nil
}

func contentsFromRecords(records []contentRecord) ([]ledger.Content, error) {
	contents := make([]ledger.Content, 0, len(records))
	for _, record := range records {
		content, err := record.content()
		if err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	return contents, nil
}
