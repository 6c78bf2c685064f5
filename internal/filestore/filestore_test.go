package filestore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `transaction_id,user_id,amount,timestamp
T1,U1,120.50,2024-01-15T10:30:00Z
T2,U1,60000,2024-01-15T10:31:00Z
T3,U2,-100,2024-01-15T10:32:00Z
T4,U2,abc,2024-01-15T10:33:00Z
T5,U3,15.00,not-a-date
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStore_SaveAndSize(t *testing.T) {
	store := newTestStore(t)

	written, err := store.Save("job-1", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleCSV)), written)

	size, err := store.Size("job-1")
	require.NoError(t, err)
	assert.Equal(t, written, size)
}

func TestStore_Size_MissingFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Size("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat upload file")
}

func TestStore_CountRows(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{
			name:    "header plus data rows",
			content: sampleCSV,
			want:    5,
		},
		{
			name:    "header only",
			content: "transaction_id,user_id,amount,timestamp\n",
			want:    0,
		},
		{
			name:    "empty file",
			content: "",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			_, err := store.Save("job-1", strings.NewReader(tt.content))
			require.NoError(t, err)

			count, err := store.CountRows("job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestStore_ReadRange(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save("job-1", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	t.Run("middle range", func(t *testing.T) {
		records, err := store.ReadRange("job-1", 1, 3)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "T2", records[0].TransactionID)
		assert.Equal(t, "60000", records[0].Amount)
		assert.Equal(t, "T3", records[1].TransactionID)
		assert.Equal(t, "-100", records[1].Amount)
	})

	t.Run("range past end is truncated", func(t *testing.T) {
		records, err := store.ReadRange("job-1", 3, 100)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "T4", records[0].TransactionID)
		assert.Equal(t, "T5", records[1].TransactionID)
	})

	t.Run("empty range", func(t *testing.T) {
		records, err := store.ReadRange("job-1", 2, 2)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("invalid range", func(t *testing.T) {
		_, err := store.ReadRange("job-1", 3, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid row range")
	})
}

func TestStore_ReadRange_ColumnOrder(t *testing.T) {
	// Columns are matched by header name, not position.
	shuffled := `timestamp,amount,transaction_id,user_id,extra
2024-01-15T10:30:00Z,99.99,T1,U1,ignored
`
	store := newTestStore(t)
	_, err := store.Save("job-1", strings.NewReader(shuffled))
	require.NoError(t, err)

	records, err := store.ReadRange("job-1", 0, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "T1", records[0].TransactionID)
	assert.Equal(t, "U1", records[0].UserID)
	assert.Equal(t, "99.99", records[0].Amount)
	assert.Equal(t, "2024-01-15T10:30:00Z", records[0].Timestamp)
}

func TestStore_ReadRange_MissingColumn(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save("job-1", strings.NewReader("transaction_id,user_id,amount\nT1,U1,10\n"))
	require.NoError(t, err)

	_, err = store.ReadRange("job-1", 0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "timestamp"`)
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("job-1", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	replacement := "transaction_id,user_id,amount,timestamp\nT9,U9,1,2024-01-15\n"
	_, err = store.Save("job-1", strings.NewReader(replacement))
	require.NoError(t, err)

	count, err := store.CountRows("job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
