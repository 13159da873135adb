package ledger

import (
	"context"
	"fmt"
	"time"
)

// AccessResult is the outcome of an entitlement check.
type AccessResult struct {
	HasAccess    bool
	AccessType   AccessType
	PurchaseDate *time.Time
}

// AccessResolver decides whether a user already owns content.
type AccessResolver struct {
	catalog Catalog
	store   Store
}

// NewAccessResolver wires an AccessResolver.
func NewAccessResolver(catalog Catalog, store Store) (*AccessResolver, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &AccessResolver{catalog: catalog, store: store}, nil
}

// CheckAccess resolves access in order: creator identity, direct grant, then series grant.
func (resolver *AccessResolver) CheckAccess(ctx context.Context, userID UserID, ref ContentRef) (AccessResult, error) {
	if userID.IsZero() {
		return AccessResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	content, err := resolver.catalog.LookupContent(ctx, ref)
	if err != nil {
		return AccessResult{}, err
	}
	return resolveAccess(ctx, resolver.store, userID, content)
}

// resolveAccess evaluates grants through store, which may be a transaction store.
func resolveAccess(ctx context.Context, store Store, userID UserID, content Content) (AccessResult, error) {
	if content.CreatorID == userID {
		return AccessResult{HasAccess: true, AccessType: AccessTypeCreatorAccess}, nil
	}
	grant, found, err := store.FindGrant(ctx, userID, content.Ref)
	if err != nil {
		return AccessResult{}, err
	}
	if found {
		return grantedBy(grant), nil
	}
	if content.Ref.Type != ContentTypeVideo || content.SeriesID == nil {
		return AccessResult{}, nil
	}
	seriesGrant, found, err := store.FindGrant(ctx, userID, ContentRef{Type: ContentTypeSeries, ID: *content.SeriesID})
	if err != nil {
		return AccessResult{}, err
	}
	if found {
		return grantedBy(seriesGrant), nil
	}
	return AccessResult{}, nil
}

func grantedBy(grant AccessGrant) AccessResult {
	purchasedAt := grant.PurchasedAt
	return AccessResult{HasAccess: true, AccessType: grant.AccessType, PurchaseDate: &purchasedAt}
}
