package registry

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/models"
)

func newTestRegistry() *Registry {
	return New(logger.NewWithWriter(io.Discard))
}

func testGeometry() models.Geometry {
	return models.Geometry{
		Coordinates: [][][][2]float64{{{
			{126.97, 37.57}, {126.98, 37.57}, {126.98, 37.58}, {126.97, 37.57},
		}}},
		SRID: 4326,
	}
}

func TestUpsertAssignsDefaults(t *testing.T) {
	reg := newTestRegistry()
	attrs := map[string]interface{}{"addr": "서울특별시 종로구 사직동 344-1"}

	search, err := reg.Upsert(models.CollectionSearch, "p1", testGeometry(), attrs)
	require.NoError(t, err)
	assert.Equal(t, models.ColorSearchHighlight, search.Color)
	assert.Equal(t, "사직동 344-1", search.DisplayLabel)

	click, err := reg.Upsert(models.CollectionClick, "p2", testGeometry(), attrs)
	require.NoError(t, err)
	assert.Equal(t, models.ColorTransparent, click.Color)
}

func TestUpsertRejectsBadInput(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.Collection("hover"), "p1", testGeometry(), nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)

	_, err = reg.Upsert(models.CollectionClick, "", testGeometry(), nil)
	assert.ErrorIs(t, err, ErrEmptyID)
}

// Re-upserting an id must refresh geometry and attributes but never erase
// the user's color, owner info, or the label computed at first insert.
func TestUpsertPreservesUserEdits(t *testing.T) {
	reg := newTestRegistry()
	attrs := map[string]interface{}{"addr": "서울특별시 종로구 사직동 344-1"}

	_, err := reg.Upsert(models.CollectionClick, "p1", testGeometry(), attrs)
	require.NoError(t, err)

	_, err = reg.SetColor(models.CollectionClick, "p1", models.Color("#00FF00"))
	require.NoError(t, err)
	_, err = reg.SaveOwnerInfo("p1", models.OwnerInfo{Owner: "홍길동"})
	require.NoError(t, err)

	newGeom := testGeometry()
	newGeom.Coordinates[0][0][0] = [2]float64{127.0, 37.5}
	updated, err := reg.Upsert(models.CollectionClick, "p1", newGeom, map[string]interface{}{"addr": "somewhere else entirely"})
	require.NoError(t, err)

	assert.Equal(t, models.Color("#00FF00"), updated.Color)
	require.NotNil(t, updated.OwnerInfo)
	assert.Equal(t, "홍길동", updated.OwnerInfo.Owner)
	assert.Equal(t, "사직동 344-1", updated.DisplayLabel, "label is computed once, on first insert")
	assert.Equal(t, [2]float64{127.0, 37.5}, updated.Geometry.Coordinates[0][0][0])
	assert.Equal(t, 1, reg.Count(models.CollectionClick))
}

// Coloring a search record claims a copy into the click collection. The new
// color lands on the click copy; the search record keeps its own color.
func TestSetColorClaimsSearchIntoClick(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionSearch, "p1", testGeometry(), nil)
	require.NoError(t, err)

	migrated, err := reg.SetColor(models.CollectionSearch, "p1", models.Color("#00FF00"))
	require.NoError(t, err)
	assert.True(t, migrated)

	search, ok := reg.Get(models.CollectionSearch, "p1")
	require.True(t, ok, "search record must survive the claim")
	assert.Equal(t, models.ColorSearchHighlight, search.Color)

	click, ok := reg.Get(models.CollectionClick, "p1")
	require.True(t, ok)
	assert.Equal(t, models.Color("#00FF00"), click.Color)
	assert.Equal(t, models.CollectionClick, click.Collection)
}

func TestSetColorTransparentOnSearchDoesNotMigrate(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionSearch, "p1", testGeometry(), nil)
	require.NoError(t, err)

	migrated, err := reg.SetColor(models.CollectionSearch, "p1", models.ColorTransparent)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.False(t, reg.Has(models.CollectionClick, "p1"))

	search, _ := reg.Get(models.CollectionSearch, "p1")
	assert.Equal(t, models.ColorTransparent, search.Color)
}

func TestSetColorOnClickRecord(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionClick, "p1", testGeometry(), nil)
	require.NoError(t, err)

	migrated, err := reg.SetColor(models.CollectionClick, "p1", models.Color("#FFCC00"))
	require.NoError(t, err)
	assert.False(t, migrated)

	record, _ := reg.Get(models.CollectionClick, "p1")
	assert.Equal(t, models.Color("#FFCC00"), record.Color)
}

func TestSetColorUntracked(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.SetColor(models.CollectionClick, "missing", models.Color("#FFCC00"))
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestMigrateToClickOverwritesExisting(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionClick, "p1", testGeometry(), nil)
	require.NoError(t, err)
	_, err = reg.SaveOwnerInfo("p1", models.OwnerInfo{Owner: "old"})
	require.NoError(t, err)

	_, err = reg.Upsert(models.CollectionSearch, "p1", testGeometry(), nil)
	require.NoError(t, err)

	require.NoError(t, reg.MigrateToClick("p1"))

	click, _ := reg.Get(models.CollectionClick, "p1")
	assert.Nil(t, click.OwnerInfo, "migrated copy replaces the old click record")
	assert.Equal(t, models.CollectionClick, click.Collection)

	assert.ErrorIs(t, reg.MigrateToClick("missing"), ErrNotTracked)
}

// SetColor and MigrateToClick share the same claim step: apart from the
// color SetColor applies, both must land an identical copy in click.
func TestClaimPathsProduceSameClickRecord(t *testing.T) {
	attrs := map[string]interface{}{"addr": "서울특별시 종로구 사직동 344-1"}

	viaColor := newTestRegistry()
	_, err := viaColor.Upsert(models.CollectionSearch, "p1", testGeometry(), attrs)
	require.NoError(t, err)
	_, err = viaColor.SetColor(models.CollectionSearch, "p1", models.Color("#00FF00"))
	require.NoError(t, err)

	viaMigrate := newTestRegistry()
	_, err = viaMigrate.Upsert(models.CollectionSearch, "p1", testGeometry(), attrs)
	require.NoError(t, err)
	require.NoError(t, viaMigrate.MigrateToClick("p1"))

	colored, ok := viaColor.Get(models.CollectionClick, "p1")
	require.True(t, ok)
	migrated, ok := viaMigrate.Get(models.CollectionClick, "p1")
	require.True(t, ok)

	assert.Equal(t, models.Color("#00FF00"), colored.Color)
	colored.Color = migrated.Color
	assert.Equal(t, migrated, colored)
}

func TestSaveOwnerInfo(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionClick, "p1", testGeometry(), nil)
	require.NoError(t, err)

	record, err := reg.SaveOwnerInfo("p1", models.OwnerInfo{Owner: "홍길동", Contact: "010-0000-0000"})
	require.NoError(t, err)
	assert.True(t, record.Persisted())

	// Owner info only attaches to click records
	_, err = reg.Upsert(models.CollectionSearch, "p2", testGeometry(), nil)
	require.NoError(t, err)
	_, err = reg.SaveOwnerInfo("p2", models.OwnerInfo{Owner: "x"})
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionClick, "p1", testGeometry(), nil)
	require.NoError(t, err)

	assert.True(t, reg.Remove(models.CollectionClick, "p1"))
	assert.False(t, reg.Remove(models.CollectionClick, "p1"))
	assert.False(t, reg.Remove(models.CollectionClick, "never-tracked"))
	assert.Equal(t, 0, reg.Count(models.CollectionClick))
}

func TestRemoveOnlyTouchesNamedCollection(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Upsert(models.CollectionSearch, "p1", testGeometry(), nil)
	require.NoError(t, err)
	_, err = reg.Upsert(models.CollectionClick, "p1", testGeometry(), nil)
	require.NoError(t, err)

	reg.Remove(models.CollectionSearch, "p1")
	assert.False(t, reg.Has(models.CollectionSearch, "p1"))
	assert.True(t, reg.Has(models.CollectionClick, "p1"))
}

func TestClearCollection(t *testing.T) {
	reg := newTestRegistry()

	for _, id := range []string{"a", "b", "c"} {
		_, err := reg.Upsert(models.CollectionSearch, id, testGeometry(), nil)
		require.NoError(t, err)
	}
	_, err := reg.Upsert(models.CollectionClick, "d", testGeometry(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, reg.ClearCollection(models.CollectionSearch))
	assert.Equal(t, 0, reg.Count(models.CollectionSearch))
	assert.Equal(t, 1, reg.Count(models.CollectionClick))
	assert.Equal(t, 0, reg.ClearCollection(models.CollectionSearch))
}

func TestModeDefaultsToClick(t *testing.T) {
	reg := newTestRegistry()
	assert.Equal(t, models.CollectionClick, reg.Mode())
}

func TestSetMode(t *testing.T) {
	reg := newTestRegistry()

	changed, err := reg.SetMode(models.CollectionSearch)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.CollectionSearch, reg.Mode())

	changed, err = reg.SetMode(models.CollectionSearch)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = reg.SetMode(models.Mode("hover"))
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestListSortedAndCloned(t *testing.T) {
	reg := newTestRegistry()

	for _, id := range []string{"c", "a", "b"} {
		_, err := reg.Upsert(models.CollectionClick, id, testGeometry(), nil)
		require.NoError(t, err)
	}

	records := reg.List(models.CollectionClick)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
	assert.Equal(t, "c", records[2].ID)

	// Mutating a returned record must not leak into the registry
	records[0].Color = models.Color("#123456")
	stored, _ := reg.Get(models.CollectionClick, "a")
	assert.Equal(t, models.ColorTransparent, stored.Color)
}
