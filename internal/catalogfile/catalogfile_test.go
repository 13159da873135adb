package catalogfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
)

const seedCatalog = `
series:
  - id: series-1
    title: Season One
    price: 500
    creator_id: creator-1
videos:
  - id: video-1
    title: Episode 1
    price: 100
    creator_id: creator-1
    series_id: series-1
  - id: video-2
    title: Episode 2
    price: 150
    creator_id: creator-1
    series_id: series-1
    active: false
  - id: standalone
    title: Short
    price: 0
    creator_id: creator-2
`

func TestLoadParsesSeriesAndVideos(t *testing.T) {
	t.Parallel()
	contents, err := Load(strings.NewReader(seedCatalog))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(contents) != 4 {
		t.Fatalf("expected 4 items, got %d", len(contents))
	}
	series := contents[0]
	if series.Ref.Type != ledger.ContentTypeSeries || series.Price != 500 || series.SeriesID != nil || !series.Active {
		t.Fatalf("unexpected series %+v", series)
	}
	first := contents[1]
	if first.Ref.String() != "video:video-1" || first.SeriesID == nil || first.SeriesID.String() != "series-1" {
		t.Fatalf("unexpected first video %+v", first)
	}
	if contents[2].Active {
		t.Fatalf("expected video-2 inactive")
	}
	if contents[3].SeriesID != nil || contents[3].Price != 0 {
		t.Fatalf("unexpected standalone video %+v", contents[3])
	}
}

func TestLoadRejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		document string
	}{
		{name: "unknown field", document: "videos:\n  - id: v\n    cost: 3\n"},
		{name: "negative price", document: "videos:\n  - id: v\n    price: -1\n    creator_id: c\n"},
		{name: "missing creator", document: "videos:\n  - id: v\n    price: 1\n"},
		{name: "unknown series", document: "videos:\n  - id: v\n    price: 1\n    creator_id: c\n    series_id: s\n"},
		{name: "duplicate video", document: "videos:\n  - id: v\n    creator_id: c\n  - id: v\n    creator_id: c\n"},
		{name: "nested series", document: "series:\n  - id: s\n    creator_id: c\n    series_id: other\n"},
		{name: "creator mismatch", document: "series:\n  - id: s\n    creator_id: a\nvideos:\n  - id: v\n    creator_id: b\n    series_id: s\n"},
		{name: "malformed yaml", document: "videos: [\n"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(testCase.document))
			if !errors.Is(err, ErrInvalidCatalog) {
				t.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestLoadEmptyDocument(t *testing.T) {
	t.Parallel()
	contents, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(contents) != 0 {
		t.Fatalf("expected no items, got %d", len(contents))
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(seedCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	contents, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if len(contents) != 4 {
		t.Fatalf("expected 4 items, got %d", len(contents))
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
