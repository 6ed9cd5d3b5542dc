package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/catalog"
	"github.com/mkessler/streamgate/internal/pkg/entitlement"
	"github.com/mkessler/streamgate/internal/pkg/signing"
)

// DenialReason is the enumerated, user-facing reason for a refused grant.
// Internal errors are never exposed through this type.
type DenialReason string

const (
	DeniedNoEntitlement   DenialReason = "no_entitlement"
	DeniedExpired         DenialReason = "expired"
	DeniedAssetNotCovered DenialReason = "asset_not_covered"
)

// DeniedError is returned when the caller is not entitled to the asset.
type DeniedError struct {
	Reason DenialReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// Denied extracts the denial reason from an error, if it is one.
func Denied(err error) (DenialReason, bool) {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}

// Grant is a short-lived, read-only credential for one asset. Not persisted;
// verifiable without a round trip to the entitlement store.
type Grant struct {
	AssetID   uint      `json:"asset_id"`
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EntitlementReader is the read-only slice of the entitlement engine the
// issuer needs.
type EntitlementReader interface {
	Get(ctx context.Context, userID, planID uint) (*models.Entitlement, error)
}

// URLSigner mints object-store URLs redeemable without the application on
// the data path.
type URLSigner interface {
	PresignGetObject(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// Issuer turns current entitlement state into media access grants. Issuance
// is a pure read: no writes, no locks, safe at high concurrency.
type Issuer struct {
	catalog      catalog.Resolver
	entitlements EntitlementReader
	media        *signing.Context
	urls         URLSigner // nil when no object store is configured
	ttl          time.Duration
	maxTTL       time.Duration
	now          func() time.Time
}

// NewIssuer creates a grant issuer. urls may be nil; grants then carry only
// the signed media token, redeemable through a verifying proxy.
func NewIssuer(cat catalog.Resolver, ents EntitlementReader, media *signing.Context, urls URLSigner, ttl, maxTTL time.Duration) *Issuer {
	if maxTTL <= 0 {
		maxTTL = 15 * time.Minute
	}
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	return &Issuer{
		catalog:      cat,
		entitlements: ents,
		media:        media,
		urls:         urls,
		ttl:          ttl,
		maxTTL:       maxTTL,
		now:          time.Now,
	}
}

// Issue checks the caller's entitlements against the plans covering the
// asset and mints a grant. Token validity of the caller never implies media
// access; this check is always performed.
func (i *Issuer) Issue(ctx context.Context, userID, assetID uint) (*Grant, error) {
	asset, err := i.catalog.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &DeniedError{Reason: DeniedAssetNotCovered}
		}
		return nil, err
	}

	planIDs, err := i.catalog.PlansCoveringAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if len(planIDs) == 0 {
		return nil, &DeniedError{Reason: DeniedAssetNotCovered}
	}

	now := i.now()
	lapsed := false
	entitled := false
	for _, planID := range planIDs {
		ent, err := i.entitlements.Get(ctx, userID, planID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		if ent.LastEventAt == nil {
			// Row exists but never applied an event; treat as absent.
			continue
		}
		if entitlement.IsEntitling(ent.Status, ent.GraceDeadline, now) {
			entitled = true
			break
		}
		lapsed = true
	}
	if !entitled {
		if lapsed {
			return nil, &DeniedError{Reason: DeniedExpired}
		}
		return nil, &DeniedError{Reason: DeniedNoEntitlement}
	}

	ttl := i.ttl
	if ttl > i.maxTTL {
		ttl = i.maxTTL
	}
	token, claims, err := signing.MintMediaGrant(i.media, userID, assetID, ttl)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("/media/%s?grant=%s", asset.UUID, token)
	if i.urls != nil {
		url, err = i.urls.PresignGetObject(ctx, asset.ObjectKey, ttl)
		if err != nil {
			return nil, err
		}
	}

	return &Grant{
		AssetID:   assetID,
		URL:       url,
		Token:     token,
		IssuedAt:  time.Unix(claims.IssuedAt, 0),
		ExpiresAt: time.Unix(claims.ExpiresAt, 0),
	}, nil
}
