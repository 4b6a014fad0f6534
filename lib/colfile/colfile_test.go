package colfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables", "metrics"+Extension)
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()

	cols := []*relation.Column{
		relation.NewColumn("_index0_sensor", []any{"a", "b", "c"}),
		relation.NewColumn("sensorA.temp, raw=1", []any{1.5, nil, 3.0}),
		relation.NewColumn("Count", []any{1, 2, nil}),
		relation.NewColumn("ok", []any{true, nil, false}),
		relation.NewColumn("datetime", []any{now, now.Add(time.Second), nil}),
		relation.NullColumn("empty", 3),
	}

	size, err := Write(path, cols)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, len(cols))
	for i := range cols {
		assert.Equal(t, cols[i].Name, got[i].Name)
		assert.Equal(t, cols[i].Kind, got[i].Kind, cols[i].Name)
		assert.Equal(t, cols[i].Values, got[i].Values, cols[i].Name)
	}

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty"+Extension)

	_, err := Write(path, nil)
	require.NoError(t, err)
	got, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Write(path, []*relation.Column{relation.NewColumn("a", []any{})})
	require.NoError(t, err)
	got, err = Read(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Len())
}

func TestWriteRejectsRaggedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+Extension)
	_, err := Write(path, []*relation.Column{
		relation.NewColumn("a", []any{1, 2}),
		relation.NewColumn("b", []any{1}),
	})
	assert.Error(t, err)
	assert.False(t, Exists(path))
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing"+Extension))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBackupAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t"+Extension)

	// nothing to back up yet
	require.NoError(t, Backup(path))
	assert.False(t, Exists(path+BackupSuffix))

	_, err := Write(path, []*relation.Column{relation.NewColumn("a", []any{1})})
	require.NoError(t, err)
	require.NoError(t, Backup(path))
	assert.True(t, Exists(path+BackupSuffix))

	backup, err := Read(path + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, backup[0].Values)

	require.NoError(t, Remove(path))
	assert.False(t, Exists(path))
	assert.False(t, Exists(path+BackupSuffix))
	require.NoError(t, Remove(path))
}
