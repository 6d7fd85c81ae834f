package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srec-ev/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolylineToCore_PairFormat(t *testing.T) {
	input := "[[11.1012,76.9651],[11.1015,76.9655],[11.1019,76.9660]]"
	poly, err := ParsePolylineToCore(input)

	require.NoError(t, err)
	require.Len(t, poly, 3)
	assert.Equal(t, 11.1012, poly[0].Lat)
	assert.Equal(t, 76.9651, poly[0].Lng)
	assert.Equal(t, 76.9660, poly[2].Lng)
}

func TestParsePolylineToCore_ObjectFormat(t *testing.T) {
	input := `[{"lat":1,"lng":2},{"lat":3,"lng":4}]`
	poly, err := ParsePolylineToCore(input)

	require.NoError(t, err)
	assert.Equal(t, core.Polyline{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}}, poly)
}

func TestParsePolylineToCore_InvalidJSON(t *testing.T) {
	_, err := ParsePolylineToCore("not valid json")
	require.Error(t, err)
}

func TestParsePolylineToCore_TooFewPoints(t *testing.T) {
	_, err := ParsePolylineToCore("[[10,20]]")
	require.Error(t, err)
}

func TestParsePolylineToCore_InsufficientCoordinates(t *testing.T) {
	_, err := ParsePolylineToCore("[[10],[20,30]]")
	require.Error(t, err)
}

func TestParsePolylineToCore_OutOfRange(t *testing.T) {
	_, err := ParsePolylineToCore("[[10,20],[95,30]]")
	require.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestLineStringFromPolyline_AxisOrder(t *testing.T) {
	ls := LineStringFromPolyline(core.Polyline{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}})

	xy := ls.Coordinates().GetXY(0)
	assert.Equal(t, 2.0, xy.X, "X holds longitude")
	assert.Equal(t, 1.0, xy.Y, "Y holds latitude")
	assert.Equal(t, 2, ls.Coordinates().Length())
}

func TestPathLength(t *testing.T) {
	poly := core.Polyline{{Lat: 0, Lng: 0}, {Lat: 3, Lng: 4}}
	assert.InDelta(t, 5.0, PathLength(poly), 1e-9)
}

func TestLoadPolylineFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.json")
	require.NoError(t, os.WriteFile(path, []byte("[[1,2],[3,4]]"), 0644))

	poly, err := LoadPolylineFile(path)
	require.NoError(t, err)
	assert.Len(t, poly, 2)

	_, err = LoadPolylineFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
