// Package catalogfile parses catalog seed files.
//
// The format lists series and videos separately; a video joins a series through series_id:
//
//	series:
//	  - id: series-1
//	    title: Season One
//	    price: 500
//	    creator_id: creator-1
//	videos:
//	  - id: video-1
//	    title: Episode 1
//	    price: 100
//	    creator_id: creator-1
//	    series_id: series-1
//
// Items are active unless active: false is given.
package catalogfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog marks a seed file that cannot be loaded.
var ErrInvalidCatalog = errors.New("catalogfile: invalid catalog")

type document struct {
	Series []item `yaml:"series"`
	Videos []item `yaml:"videos"`
}

type item struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Price     int64  `yaml:"price"`
	CreatorID string `yaml:"creator_id"`
	SeriesID  string `yaml:"series_id"`
	Active    *bool  `yaml:"active"`
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) ([]ledger.Content, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}

// Load parses a catalog document. Series are returned before videos.
func Load(reader io.Reader) ([]ledger.Content, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	var parsed document
	if err := decoder.Decode(&parsed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	seriesCreators := make(map[string]ledger.UserID, len(parsed.Series))
	seen := make(map[ledger.ContentRef]struct{}, len(parsed.Series)+len(parsed.Videos))
	contents := make([]ledger.Content, 0, len(parsed.Series)+len(parsed.Videos))

	for index, raw := range parsed.Series {
		if raw.SeriesID != "" {
			return nil, fmt.Errorf("%w: series[%d] cannot belong to a series", ErrInvalidCatalog, index)
		}
		content, err := raw.content(ledger.ContentTypeSeries)
		if err != nil {
			return nil, fmt.Errorf("%w: series[%d]: %v", ErrInvalidCatalog, index, err)
		}
		if _, duplicate := seen[content.Ref]; duplicate {
			return nil, fmt.Errorf("%w: duplicate %s", ErrInvalidCatalog, content.Ref)
		}
		seen[content.Ref] = struct{}{}
		seriesCreators[content.Ref.ID.String()] = content.CreatorID
		contents = append(contents, content)
	}

	for index, raw := range parsed.Videos {
		content, err := raw.content(ledger.ContentTypeVideo)
		if err != nil {
			return nil, fmt.Errorf("%w: videos[%d]: %v", ErrInvalidCatalog, index, err)
		}
		if _, duplicate := seen[content.Ref]; duplicate {
			return nil, fmt.Errorf("%w: duplicate %s", ErrInvalidCatalog, content.Ref)
		}
		if content.SeriesID != nil {
			creatorID, ok := seriesCreators[content.SeriesID.String()]
			if !ok {
				return nil, fmt.Errorf("%w: %s references unknown series %s", ErrInvalidCatalog, content.Ref, content.SeriesID)
			}
			if creatorID != content.CreatorID {
				return nil, fmt.Errorf("%w: %s creator differs from its series", ErrInvalidCatalog, content.Ref)
			}
		}
		seen[content.Ref] = struct{}{}
		contents = append(contents, content)
	}
	return contents, nil
}

func (raw item) content(contentType ledger.ContentType) (ledger.Content, error) {
	ref, err := ledger.NewContentRef(contentType.String(), raw.ID)
	if err != nil {
		return ledger.Content{}, err
	}
	price, err := ledger.NewCoins(raw.Price)
	if err != nil {
		return ledger.Content{}, err
	}
	creatorID, err := ledger.NewUserID(raw.CreatorID)
	if err != nil {
		return ledger.Content{}, err
	}
	content := ledger.Content{Ref: ref, Title: raw.Title, Price: price, CreatorID: creatorID, Active: true}
	if raw.Active != nil {
		content.Active = *raw.Active
	}
	if raw.SeriesID != "" {
		seriesID, err := ledger.NewContentID(raw.SeriesID)
		if err != nil {
			return ledger.Content{}, err
		}
		content.SeriesID = &seriesID
	}
	return content, nil
}
