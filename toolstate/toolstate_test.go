package toolstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	rec := Record{ActiveTool: 3, ReferenceMZ: -120.5, CurrentMZ: -118.25, ToolLengthOffset: 2.25}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	rec.ActiveTool = 4
	require.NoError(t, s.Save(ctx, rec))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ActiveTool)
}

func TestMemory(t *testing.T) {
	runStoreContract(t, &Memory{})
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatc.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)
	runStoreContract(t, s)
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, got.ActiveTool, "record survives reopen")
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, WithPrefix("test:"))
	defer s.Close()
	runStoreContract(t, s)
	assert.True(t, mr.Exists("test:toolstate"))
}

func TestOffsets_Default(t *testing.T) {
	o, err := Open(context.Background(), &Memory{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRecord(), o.Record())
	assert.Equal(t, -1, o.ActiveTool())
}

func TestOffsets_SavesOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	m := &Memory{}
	o, err := Open(ctx, m)
	require.NoError(t, err)

	require.NoError(t, o.SetActiveTool(ctx, -1))
	assert.Zero(t, m.Saves)

	require.NoError(t, o.SetActiveTool(ctx, 2))
	assert.Equal(t, 1, m.Saves)

	_, err = o.Calibrated(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Saves)

	_, err = o.Calibrated(ctx, -100.00001)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Saves, "below epsilon")
}

func TestOffsets_Calibrated(t *testing.T) {
	ctx := context.Background()
	m := &Memory{}
	require.NoError(t, m.Save(ctx, Record{ActiveTool: 1, ReferenceMZ: -120, CurrentMZ: -120}))
	o, err := Open(ctx, m)
	require.NoError(t, err)

	rec, err := o.Calibrated(ctx, -115.5)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, rec.ToolLengthOffset, 1e-9)

	require.NoError(t, o.SetReference(ctx))
	assert.Equal(t, -115.5, o.Record().ReferenceMZ)
	assert.Zero(t, o.Record().ToolLengthOffset)

	require.NoError(t, o.SetReferenceMZ(ctx, -117))
	assert.InDelta(t, 1.5, o.Record().ToolLengthOffset, 1e-9)
}

func TestOffsets_ReferenceReset(t *testing.T) {
	ctx := context.Background()
	m := &Memory{}
	require.NoError(t, m.Save(ctx, Record{ActiveTool: 1, ReferenceMZ: 5}))
	o, err := Open(ctx, m)
	require.NoError(t, err)

	rec, err := o.Calibrated(ctx, -100)
	assert.ErrorIs(t, err, ErrReferenceReset)
	assert.Equal(t, ReferenceUnset, rec.ReferenceMZ)
	assert.InDelta(t, -90, rec.ToolLengthOffset, 1e-9)

	saved, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, saved, "offset persisted before the error")
}
