package grant

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/signing"
)

type fakeCatalog struct {
	assets map[uint]*models.MediaAsset
	plans  map[uint][]uint
}

func (f *fakeCatalog) GetAsset(ctx context.Context, assetID uint) (*models.MediaAsset, error) {
	if asset, ok := f.assets[assetID]; ok {
		return asset, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCatalog) GetAssetByUUID(ctx context.Context, uuid string) (*models.MediaAsset, error) {
	for _, asset := range f.assets {
		if asset.UUID == uuid {
			return asset, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCatalog) PlansCoveringAsset(ctx context.Context, assetID uint) ([]uint, error) {
	return f.plans[assetID], nil
}

type fakeEntitlements struct {
	ents map[string]*models.Entitlement
}

func (f *fakeEntitlements) Get(ctx context.Context, userID, planID uint) (*models.Entitlement, error) {
	if ent, ok := f.ents[fmt.Sprintf("%d:%d", userID, planID)]; ok {
		return ent, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeURLSigner struct {
	calls []time.Duration
}

func (f *fakeURLSigner) PresignGetObject(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	f.calls = append(f.calls, ttl)
	return "https://store.example.com/" + objectKey + "?signed=1", nil
}

func testAsset() *models.MediaAsset {
	asset := &models.MediaAsset{UUID: "a1b2c3", Title: "Movie", ObjectKey: "videos/movie.mp4"}
	asset.ID = 7
	return asset
}

func entitledAt(status string, eventAt time.Time, graceDeadline *time.Time) *models.Entitlement {
	return &models.Entitlement{
		UserID:        1,
		PlanID:        3,
		Status:        status,
		GraceDeadline: graceDeadline,
		LastEventAt:   &eventAt,
	}
}

func testIssuer(t *testing.T, cat *fakeCatalog, ents *fakeEntitlements, urls URLSigner, ttl, maxTTL time.Duration) *Issuer {
	t.Helper()
	media, err := signing.NewContext("media_grant", "media-secret-0123456789")
	require.NoError(t, err)
	return NewIssuer(cat, ents, media, urls, ttl, maxTTL)
}

func TestIssueGrantForActiveEntitlement(t *testing.T) {
	cat := &fakeCatalog{
		assets: map[uint]*models.MediaAsset{7: testAsset()},
		plans:  map[uint][]uint{7: {3}},
	}
	ents := &fakeEntitlements{ents: map[string]*models.Entitlement{
		"1:3": entitledAt(models.EntitlementStatusActive, time.Now().Add(-time.Hour), nil),
	}}
	issuer := testIssuer(t, cat, ents, nil, 5*time.Minute, 15*time.Minute)

	g, err := issuer.Issue(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, uint(7), g.AssetID)
	assert.NotEmpty(t, g.Token)
	assert.Contains(t, g.URL, "/media/a1b2c3?grant=")
	assert.WithinDuration(t, g.IssuedAt.Add(5*time.Minute), g.ExpiresAt, time.Second)
}

func TestIssueUsesPresignedURLWhenStoreConfigured(t *testing.T) {
	cat := &fakeCatalog{
		assets: map[uint]*models.MediaAsset{7: testAsset()},
		plans:  map[uint][]uint{7: {3}},
	}
	ents := &fakeEntitlements{ents: map[string]*models.Entitlement{
		"1:3": entitledAt(models.EntitlementStatusActive, time.Now().Add(-time.Hour), nil),
	}}
	signer := &fakeURLSigner{}
	issuer := testIssuer(t, cat, ents, signer, 5*time.Minute, 15*time.Minute)

	g, err := issuer.Issue(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "https://store.example.com/videos/movie.mp4?signed=1", g.URL)
	require.Len(t, signer.calls, 1)
	assert.Equal(t, 5*time.Minute, signer.calls[0])
}

func TestIssueCapsTTL(t *testing.T) {
	cat := &fakeCatalog{
		assets: map[uint]*models.MediaAsset{7: testAsset()},
		plans:  map[uint][]uint{7: {3}},
	}
	ents := &fakeEntitlements{ents: map[string]*models.Entitlement{
		"1:3": entitledAt(models.EntitlementStatusActive, time.Now().Add(-time.Hour), nil),
	}}
	issuer := testIssuer(t, cat, ents, nil, time.Hour, 15*time.Minute)

	g, err := issuer.Issue(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.WithinDuration(t, g.IssuedAt.Add(15*time.Minute), g.ExpiresAt, time.Second)
}

func TestIssueGrantDuringGracePeriod(t *testing.T) {
	grace := time.Now().Add(24 * time.Hour)
	cat := &fakeCatalog{
		assets: map[uint]*models.MediaAsset{7: testAsset()},
		plans:  map[uint][]uint{7: {3}},
	}
	ents := &fakeEntitlements{ents: map[string]*models.Entitlement{
		"1:3": entitledAt(models.EntitlementStatusPastDue, time.Now().Add(-time.Hour), &grace),
	}}
	issuer := testIssuer(t, cat, ents, nil, 5*time.Minute, 15*time.Minute)

	_, err := issuer.Issue(context.Background(), 1, 7)
	assert.NoError(t, err)
}

func TestIssueDenials(t *testing.T) {
	expiredGrace := time.Now().Add(-24 * time.Hour)
	asset := testAsset()

	tests := []struct {
		name   string
		cat    *fakeCatalog
		ents   map[string]*models.Entitlement
		reason DenialReason
	}{
		{
			name:   "unknown asset",
			cat:    &fakeCatalog{assets: map[uint]*models.MediaAsset{}, plans: map[uint][]uint{}},
			reason: DeniedAssetNotCovered,
		},
		{
			name:   "asset covered by no plan",
			cat:    &fakeCatalog{assets: map[uint]*models.MediaAsset{7: asset}, plans: map[uint][]uint{}},
			reason: DeniedAssetNotCovered,
		},
		{
			name:   "no entitlement at all",
			cat:    &fakeCatalog{assets: map[uint]*models.MediaAsset{7: asset}, plans: map[uint][]uint{7: {3}}},
			reason: DeniedNoEntitlement,
		},
		{
			name: "entitlement lapsed",
			cat:  &fakeCatalog{assets: map[uint]*models.MediaAsset{7: asset}, plans: map[uint][]uint{7: {3}}},
			ents: map[string]*models.Entitlement{
				"1:3": entitledAt(models.EntitlementStatusExpired, time.Now().Add(-time.Hour), nil),
			},
			reason: DeniedExpired,
		},
		{
			name: "grace period over",
			cat:  &fakeCatalog{assets: map[uint]*models.MediaAsset{7: asset}, plans: map[uint][]uint{7: {3}}},
			ents: map[string]*models.Entitlement{
				"1:3": entitledAt(models.EntitlementStatusPastDue, time.Now().Add(-48*time.Hour), &expiredGrace),
			},
			reason: DeniedExpired,
		},
		{
			name: "row without applied events counts as absent",
			cat:  &fakeCatalog{assets: map[uint]*models.MediaAsset{7: asset}, plans: map[uint][]uint{7: {3}}},
			ents: map[string]*models.Entitlement{
				"1:3": {UserID: 1, PlanID: 3, Status: models.EntitlementStatusTrialing},
			},
			reason: DeniedNoEntitlement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ents := &fakeEntitlements{ents: tt.ents}
			if ents.ents == nil {
				ents.ents = map[string]*models.Entitlement{}
			}
			issuer := testIssuer(t, tt.cat, ents, nil, 5*time.Minute, 15*time.Minute)

			_, err := issuer.Issue(context.Background(), 1, 7)
			require.Error(t, err)
			reason, ok := Denied(err)
			require.True(t, ok, "expected a denial, got %v", err)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestIssueAnyCoveringPlanSuffices(t *testing.T) {
	cat := &fakeCatalog{
		assets: map[uint]*models.MediaAsset{7: testAsset()},
		plans:  map[uint][]uint{7: {2, 3}},
	}
	// Plan 2 lapsed, plan 3 active.
	ents := &fakeEntitlements{ents: map[string]*models.Entitlement{
		"1:2": entitledAt(models.EntitlementStatusCanceled, time.Now().Add(-time.Hour), nil),
		"1:3": entitledAt(models.EntitlementStatusActive, time.Now().Add(-time.Hour), nil),
	}}
	issuer := testIssuer(t, cat, ents, nil, 5*time.Minute, 15*time.Minute)

	_, err := issuer.Issue(context.Background(), 1, 7)
	assert.NoError(t, err)
}
