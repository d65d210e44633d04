package tables

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

const positionsFixture = `# local_id pos_x pos_y pos_z area type
0 0.0 0.0 0.0 area_3 ex
1 1.0 0.0 0.0 area_3 ex
2 2.0 0.0 0.0 area_12 in
3 not-a-number 0 0 area_1 ex
1 1.5 0.5 0.0 area_4 ex

4,4.0,4.0,4.0
`

func TestLoadPositions(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/run/positions/rank_0_positions.txt", []byte(positionsFixture), 0644))
	warn := sim.NewCollector(0)

	tbl, err := LoadPositions(fsys, "/run/positions/rank_0_positions.txt", Options{}, warn)
	require.NoError(t, err)

	assert.Equal(t, []sim.NeuronID{0, 1, 2, 4}, tbl.IDs())
	assert.Equal(t, 4, tbl.Len())

	p, ok := tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, sim.Position{X: 1.5, Y: 0.5, Z: 0}, p, "last duplicate row wins")

	e, ok := tbl.Entry(2)
	require.True(t, ok)
	assert.Equal(t, 12, e.Area)

	e, ok = tbl.Entry(4)
	require.True(t, ok)
	assert.Equal(t, -1, e.Area, "rows without an area column")

	assert.False(t, tbl.Has(3), "malformed row is skipped, never defaulted")
	assert.Equal(t, 1, warn.Count(sim.ParseWarning))
	assert.Equal(t, 1, warn.Count(sim.DuplicateWarning))
}

func TestLoadPositions_IDBase(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/p.txt", []byte("1 0 0 0\n2 1 1 1\n"), 0644))

	tbl, err := LoadPositions(fsys, "/p.txt", Options{IDBase: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []sim.NeuronID{0, 1}, tbl.IDs())
}

func TestLoadPositions_Missing(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()

	_, err := LoadPositions(fsys, "/run/positions/rank_0_positions.txt", Options{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrMissingData))

	var mde *sim.MissingDataError
	require.True(t, errors.As(err, &mde))
	assert.Equal(t, "positions", mde.Kind)
}

func TestLoadTargets(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	content := "# id target\n0 0.7\n1;0.8\n2 x\n0 0.75\nshort\n"
	require.NoError(t, fsys.WriteFile("/run/calcium_targets.txt", []byte(content), 0644))
	warn := sim.NewCollector(0)

	tbl, err := LoadTargets(fsys, "/run/calcium_targets.txt", Options{}, warn)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	v, ok := tbl.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, sim.Some(0.75), v)

	v, ok = tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 0.8, v.V)

	v, ok = tbl.Lookup(2)
	assert.False(t, ok)
	assert.False(t, v.Valid)

	assert.Equal(t, 2, warn.Count(sim.ParseWarning))
	assert.Equal(t, 1, warn.Count(sim.DuplicateWarning))
}

func TestLoadTargets_Missing(t *testing.T) {
	_, err := LoadTargets(fsutil.NewMemoryFileSystem(), "/run/calcium_targets.txt", Options{}, nil)
	assert.ErrorIs(t, err, sim.ErrMissingData)
}

func TestNewTables(t *testing.T) {
	src := map[sim.NeuronID]PositionEntry{5: {Position: sim.Position{X: 1}}, 2: {}}
	pt := NewPositionTable(src)
	delete(src, 5)
	assert.Equal(t, []sim.NeuronID{2, 5}, pt.IDs(), "table copies its input")

	tt := NewTargetTable(map[sim.NeuronID]float64{1: 2})
	v, ok := tt.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v.V)
}

func TestParseArea(t *testing.T) {
	tests := map[string]int{"area_0": 0, "area_47": 47, "9": 9, "cortex": -1, "area_": -1}
	for in, want := range tests {
		assert.Equal(t, want, parseArea(in), in)
	}
}
