package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/lookup"
	"github.com/sunwoo-k/parcelnote/internal/models"
	"github.com/sunwoo-k/parcelnote/internal/projector"
	"github.com/sunwoo-k/parcelnote/internal/registry"
	"github.com/sunwoo-k/parcelnote/internal/sessioncache"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) FindByPoint(ctx context.Context, lon, lat float64) (*lookup.Feature, error) {
	args := m.Called(ctx, lon, lat)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lookup.Feature), args.Error(1)
}

func (m *mockLookup) FindByBBox(ctx context.Context, minLon, minLat, maxLon, maxLat float64, size int) (*lookup.Feature, error) {
	args := m.Called(ctx, minLon, minLat, maxLon, maxLat, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lookup.Feature), args.Error(1)
}

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*lookup.Coordinate, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lookup.Coordinate), args.Error(1)
}

// recordingSaver captures each durable snapshot handed to it.
type recordingSaver struct {
	saves [][]models.TrackedParcel
	err   error
}

func (r *recordingSaver) Save(_ context.Context, parcels []models.TrackedParcel) error {
	if r.err != nil {
		return r.err
	}
	snapshot := make([]models.TrackedParcel, len(parcels))
	copy(snapshot, parcels)
	r.saves = append(r.saves, snapshot)
	return nil
}

func (r *recordingSaver) last() []models.TrackedParcel {
	if len(r.saves) == 0 {
		return nil
	}
	return r.saves[len(r.saves)-1]
}

type fixture struct {
	reg      *registry.Registry
	surface  *projector.MemorySurface
	saver    *recordingSaver
	cache    *sessioncache.Memory
	parcels  *mockLookup
	geocoder *mockGeocoder
	service  *AnnotationService
}

func newFixture() *fixture {
	log := logger.NewWithWriter(io.Discard)
	reg := registry.New(log)
	surface := projector.NewMemorySurface()
	proj := projector.New(reg, surface, log)
	saver := &recordingSaver{}
	cache := sessioncache.NewMemory()
	parcels := &mockLookup{}
	geocoder := &mockGeocoder{}
	return &fixture{
		reg:      reg,
		surface:  surface,
		saver:    saver,
		cache:    cache,
		parcels:  parcels,
		geocoder: geocoder,
		service:  NewAnnotationService(reg, proj, saver, cache, parcels, geocoder, log),
	}
}

func testFeature(pnu string) *lookup.Feature {
	return &lookup.Feature{
		Geometry: models.Geometry{
			Coordinates: [][][][2]float64{{{
				{126.97, 37.57}, {126.98, 37.57}, {126.98, 37.58}, {126.97, 37.57},
			}}},
			SRID: 4326,
		},
		Properties: map[string]interface{}{
			"pnu":  pnu,
			"addr": "서울특별시 종로구 사직동 344-1",
		},
	}
}

func polygonKey(c models.Collection, id string) projector.ArtifactKey {
	return projector.ArtifactKey{Collection: c, ID: id, Kind: projector.KindPolygon}
}

func TestClickAtTracksAndShowsParcel(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, 126.975, 37.575).Return(testFeature("pnu-1"), nil)

	record, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.NoError(t, err)
	assert.Equal(t, "pnu-1", record.ID)
	assert.Equal(t, "사직동 344-1", record.DisplayLabel)
	assert.Equal(t, models.ColorTransparent, record.Color)

	assert.True(t, f.surface.IsAttached(polygonKey(models.CollectionClick, "pnu-1")))

	// A fresh click record is ephemeral: nothing durable to save yet
	assert.Empty(t, f.saver.last())
	f.parcels.AssertExpectations(t)
}

func TestClickAtValidatesCoordinates(t *testing.T) {
	f := newFixture()

	_, err := f.service.ClickAt(context.Background(), 91.0, 126.975)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)

	_, err = f.service.ClickAt(context.Background(), 37.5, 181.0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)

	f.parcels.AssertNotCalled(t, "FindByPoint")
}

func TestClickAtMapsLookupErrors(t *testing.T) {
	tests := []struct {
		name      string
		lookupErr error
		wantErr   error
	}{
		{name: "not found", lookupErr: lookup.ErrNotFound, wantErr: ErrParcelNotFound},
		{name: "rate limited", lookupErr: lookup.ErrRateLimited, wantErr: ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.lookupErr)

			_, err := f.service.ClickAt(context.Background(), 37.5, 126.9)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.reg.Count(models.CollectionClick))
		})
	}
}

// A response that lands after the mode flipped to search is still
// tracked, but the re-sync keeps it off the surface.
func TestLateClickResponseNeverVisibleInSearchMode(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)

	require.NoError(t, f.service.SetMode(context.Background(), models.CollectionSearch))

	_, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.NoError(t, err)

	assert.True(t, f.reg.Has(models.CollectionClick, "pnu-1"))
	assert.False(t, f.surface.IsAttached(polygonKey(models.CollectionClick, "pnu-1")))
}

func TestSearchAddressSwitchesToSearchMode(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, "서울 종로구 사직로 161").
		Return(&lookup.Coordinate{Lon: 126.975, Lat: 37.575}, nil)
	f.parcels.On("FindByPoint", mock.Anything, 126.975, 37.575).Return(testFeature("pnu-1"), nil)

	record, err := f.service.SearchAddress(context.Background(), "서울 종로구 사직로 161")
	require.NoError(t, err)
	assert.Equal(t, models.ColorSearchHighlight, record.Color)
	assert.Equal(t, models.CollectionSearch, f.service.Mode())

	assert.True(t, f.surface.IsAttached(polygonKey(models.CollectionSearch, "pnu-1")))
	labelKey := projector.ArtifactKey{Collection: models.CollectionSearch, ID: "pnu-1", Kind: projector.KindLabel}
	assert.True(t, f.surface.IsAttached(labelKey))

	// The search collection lands in the session cache, not durable storage
	snap, err := f.cache.LoadSearch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap, "pnu-1")
	assert.Empty(t, f.saver.saves)
}

// A geocoded point that lands outside every parcel boundary retries with a
// small box around the point.
func TestSearchAddressFallsBackToBBox(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, "서울 종로구 사직로 161").
		Return(&lookup.Coordinate{Lon: 126.975, Lat: 37.575}, nil)
	f.parcels.On("FindByPoint", mock.Anything, 126.975, 37.575).Return(nil, lookup.ErrNotFound)
	// Evaluate the padding arithmetic on float64 values, as the service does at
	// runtime; constant folding would round differently and miss the mock.
	lon, lat := 126.975, 37.575
	f.parcels.On("FindByBBox", mock.Anything,
		lon-searchBBoxPadding, lat-searchBBoxPadding,
		lon+searchBBoxPadding, lat+searchBBoxPadding, 1).
		Return(testFeature("pnu-1"), nil)

	record, err := f.service.SearchAddress(context.Background(), "서울 종로구 사직로 161")
	require.NoError(t, err)
	assert.Equal(t, "pnu-1", record.ID)
	f.parcels.AssertExpectations(t)
}

func TestSearchAddressNotFoundAfterBBoxRetry(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, mock.Anything).
		Return(&lookup.Coordinate{Lon: 126.975, Lat: 37.575}, nil)
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(nil, lookup.ErrNotFound)
	f.parcels.On("FindByBBox", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, 1).
		Return(nil, lookup.ErrNotFound)

	_, err := f.service.SearchAddress(context.Background(), "서울 종로구 사직로 161")
	assert.ErrorIs(t, err, ErrParcelNotFound)
	assert.Equal(t, 0, f.reg.Count(models.CollectionSearch))
}

func TestSearchAddressErrors(t *testing.T) {
	f := newFixture()

	_, err := f.service.SearchAddress(context.Background(), "")
	assert.ErrorIs(t, err, ErrAddressNotFound)

	f.geocoder.On("Geocode", mock.Anything, "없는 주소").Return(nil, lookup.ErrNotFound)
	_, err = f.service.SearchAddress(context.Background(), "없는 주소")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

// Coloring a search result claims it into the click collection and makes
// it durable in one step.
func TestSetColorOnSearchRecordPersistsClaim(t *testing.T) {
	f := newFixture()
	f.geocoder.On("Geocode", mock.Anything, mock.Anything).
		Return(&lookup.Coordinate{Lon: 126.975, Lat: 37.575}, nil)
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)

	_, err := f.service.SearchAddress(context.Background(), "서울 종로구 사직로 161")
	require.NoError(t, err)

	require.NoError(t, f.service.SetColor(context.Background(), models.CollectionSearch, "pnu-1", models.Color("#00FF00")))

	durable := f.saver.last()
	require.Len(t, durable, 1)
	assert.Equal(t, "pnu-1", durable[0].ID)
	assert.Equal(t, models.Color("#00FF00"), durable[0].Color)
	assert.Equal(t, models.CollectionClick, durable[0].Collection)

	// The search record keeps its highlight color
	search, ok := f.reg.Get(models.CollectionSearch, "pnu-1")
	require.True(t, ok)
	assert.Equal(t, models.ColorSearchHighlight, search.Color)
}

func TestSetColorTransparentDropsFromDurableSet(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)

	_, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.NoError(t, err)

	require.NoError(t, f.service.SetColor(context.Background(), models.CollectionClick, "pnu-1", models.Color("#00FF00")))
	require.Len(t, f.saver.last(), 1)

	require.NoError(t, f.service.SetColor(context.Background(), models.CollectionClick, "pnu-1", models.ColorTransparent))
	assert.Empty(t, f.saver.last(), "uncolored, unannotated record is ephemeral again")
}

func TestSaveOwnerInfoPersists(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)

	_, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.NoError(t, err)

	record, err := f.service.SaveOwnerInfo(context.Background(), "pnu-1", models.OwnerInfo{Owner: "홍길동"})
	require.NoError(t, err)
	assert.True(t, record.Persisted())

	durable := f.saver.last()
	require.Len(t, durable, 1)
	require.NotNil(t, durable[0].OwnerInfo)
	assert.Equal(t, "홍길동", durable[0].OwnerInfo.Owner)

	markerKey := projector.ArtifactKey{Collection: models.CollectionClick, ID: "pnu-1", Kind: projector.KindMarker}
	assert.True(t, f.surface.IsAttached(markerKey))
}

func TestSaveOwnerInfoUntracked(t *testing.T) {
	f := newFixture()

	_, err := f.service.SaveOwnerInfo(context.Background(), "missing", models.OwnerInfo{Owner: "x"})
	assert.ErrorIs(t, err, registry.ErrNotTracked)
}

func TestRemovePersistsAndDestroysVisuals(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)

	_, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.NoError(t, err)
	require.NoError(t, f.service.SetColor(context.Background(), models.CollectionClick, "pnu-1", models.Color("#00FF00")))

	require.NoError(t, f.service.Remove(context.Background(), models.CollectionClick, "pnu-1"))
	assert.False(t, f.surface.IsAttached(polygonKey(models.CollectionClick, "pnu-1")))
	assert.Empty(t, f.saver.last())

	// Removing again is a no-op and writes nothing further
	saves := len(f.saver.saves)
	require.NoError(t, f.service.Remove(context.Background(), models.CollectionClick, "pnu-1"))
	assert.Equal(t, saves, len(f.saver.saves))
}

func TestClickAtFailsWhenPersistFails(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)
	f.saver.err = errors.New("disk full")

	_, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist click collection")
}

func TestClearCollection(t *testing.T) {
	f := newFixture()
	f.parcels.On("FindByPoint", mock.Anything, mock.Anything, mock.Anything).Return(testFeature("pnu-1"), nil)

	_, err := f.service.ClickAt(context.Background(), 37.575, 126.975)
	require.NoError(t, err)

	n, err := f.service.ClearCollection(context.Background(), models.CollectionClick)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.reg.Count(models.CollectionClick))
	assert.Empty(t, f.surface.Attached())
}

func TestSetModeRejectsUnknown(t *testing.T) {
	f := newFixture()
	err := f.service.SetMode(context.Background(), models.Mode("hover"))
	assert.ErrorIs(t, err, registry.ErrUnknownCollection)
}
