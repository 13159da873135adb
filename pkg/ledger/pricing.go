package ledger

import (
	"context"
	"fmt"
)

// OwnedVideo is a series member the buyer already purchased individually.
type OwnedVideo struct {
	VideoID ContentID
	Title   string
	Price   Coins
}

// PriceQuote is the bundle pricing snapshot for one buyer and one series.
type PriceQuote struct {
	ListPrice      Coins
	OwnedVideos    []OwnedVideo
	AdjustedPrice  Coins
	AllVideosOwned bool
}

// PricingAdjuster discounts series by the videos a buyer already owns.
type PricingAdjuster struct {
	catalog Catalog
	store   Store
}

// NewPricingAdjuster wires a PricingAdjuster.
func NewPricingAdjuster(catalog Catalog, store Store) (*PricingAdjuster, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &PricingAdjuster{catalog: catalog, store: store}, nil
}

// CalculateAdjustedPrice returns max(0, listPrice - owned member prices). A buyer who owns every
// member video pays nothing for the series.
func (adjuster *PricingAdjuster) CalculateAdjustedPrice(ctx context.Context, userID UserID, seriesID ContentID) (PriceQuote, error) {
	if userID.IsZero() {
		return PriceQuote{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	series, err := adjuster.catalog.LookupContent(ctx, ContentRef{Type: ContentTypeSeries, ID: seriesID})
	if err != nil {
		return PriceQuote{}, err
	}
	members, err := adjuster.catalog.ListSeriesVideos(ctx, seriesID)
	if err != nil {
		return PriceQuote{}, err
	}
	return quoteSeries(ctx, adjuster.store, userID, series, members)
}

// quoteSeries prices series from prefetched catalog data, reading ownership through store.
func quoteSeries(ctx context.Context, store Store, userID UserID, series Content, members []Content) (PriceQuote, error) {
	quote := PriceQuote{ListPrice: series.Price}
	var ownedTotal Coins
	for _, member := range members {
		grant, found, err := store.FindGrant(ctx, userID, member.Ref)
		if err != nil {
			return PriceQuote{}, err
		}
		if !found || grant.AccessType != AccessTypeVideoPurchase {
			continue
		}
		quote.OwnedVideos = append(quote.OwnedVideos, OwnedVideo{VideoID: member.Ref.ID, Title: member.Title, Price: member.Price})
		ownedTotal += member.Price
	}
	quote.AllVideosOwned = len(members) > 0 && len(quote.OwnedVideos) == len(members)
	quote.AdjustedPrice = adjustedPrice(series.Price, ownedTotal)
	if quote.AllVideosOwned {
		quote.AdjustedPrice = 0
	}
	return quote, nil
}

func adjustedPrice(listPrice Coins, ownedTotal Coins) Coins {
	if ownedTotal >= listPrice {
		return 0
	}
	return listPrice - ownedTotal
}
