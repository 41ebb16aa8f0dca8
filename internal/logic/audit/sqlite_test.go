package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteLog_AppendAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := OpenSQLite(path)
	require.NoError(t, err)

	first, err := l.Append(sampleRecord(15))
	require.NoError(t, err)
	noOverride := sampleRecord(3)
	noOverride.Input.OffsetOverride = nil
	second, err := l.Append(noOverride)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Reopen to exercise the no-change migration path.
	l, err = OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()

	recs, err := l.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, first.ID, recs[0].ID)
	assert.Equal(t, second.ID, recs[1].ID)
	assert.True(t, first.Timestamp.Equal(recs[0].Timestamp))
	assert.Equal(t, first.Pulses, recs[0].Pulses)
	assert.Equal(t, first.Angles, recs[0].Angles)
	require.NotNil(t, recs[0].Input.OffsetOverride)
	assert.Equal(t, 6.0, *recs[0].Input.OffsetOverride)
	assert.Nil(t, recs[1].Input.OffsetOverride)
	assert.True(t, recs[0].Input.ConveyorMode)
}

func TestSQLiteLog_StampsRecords(t *testing.T) {
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer l.Close()

	fixed := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	rec, err := l.Append(sampleRecord(1))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.Timestamp.Equal(fixed))
}

func TestSQLiteLog_ConcurrentAppenders(t *testing.T) {
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer l.Close()

	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := l.Append(sampleRecord(float64(i)))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	recs, err := l.Records()
	require.NoError(t, err)
	assert.Len(t, recs, writers*perWriter)
}

func TestOpen_SQLiteBackend(t *testing.T) {
	l, err := Open(BackendSQLite, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer l.Close()
	assert.NoError(t, LoadErr(l))
}

func TestOpenSQLite_CorruptFileRecovers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	garbage := bytes.Repeat([]byte("not a database "), 128)
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	l, err := Open(BackendSQLite, path)
	require.NoError(t, err, "corrupt store must not be fatal")
	defer l.Close()

	assert.ErrorIs(t, LoadErr(l), ErrCorrupt)
	recs, err := l.Records()
	require.NoError(t, err)
	assert.Empty(t, recs)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, garbage, data, "corrupt file was modified at load time")
}

func TestSQLiteLog_CorruptFilePreservedOnFirstWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	garbage := bytes.Repeat([]byte("not a database "), 128)
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	l, err := OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()
	l.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	rec, err := l.Append(sampleRecord(15))
	require.NoError(t, err)

	aside, err := os.ReadFile(path + ".corrupt-20250301T120000")
	require.NoError(t, err, "corrupt file not preserved")
	assert.Equal(t, garbage, aside)

	recs, err := l.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}
