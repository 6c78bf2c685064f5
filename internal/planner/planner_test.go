package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		totalRecords  int
		fileSize      int64
		wantBatchSize int
		wantBatches   int
	}{
		{
			name:          "density lands inside the clamp",
			totalRecords:  10000,
			fileSize:      10000 * 1024, // 1 KiB per row -> 2048 rows per chunk
			wantBatchSize: 2048,
			wantBatches:   5,
		},
		{
			name:          "tiny rows clamp to max",
			totalRecords:  100000,
			fileSize:      100000 * 10, // 10 bytes per row
			wantBatchSize: MaxBatchSize,
			wantBatches:   20,
		},
		{
			name:          "huge rows clamp to min",
			totalRecords:  1000,
			fileSize:      1000 * 1024 * 1024, // 1 MiB per row
			wantBatchSize: MinBatchSize,
			wantBatches:   10,
		},
		{
			name:          "single partial chunk",
			totalRecords:  50,
			fileSize:      50 * 200,
			wantBatchSize: MaxBatchSize,
			wantBatches:   1,
		},
		{
			name:          "zero records",
			totalRecords:  0,
			fileSize:      0,
			wantBatchSize: MaxBatchSize,
			wantBatches:   0,
		},
		{
			name:          "zero file size falls back to upper clamp",
			totalRecords:  10,
			fileSize:      0,
			wantBatchSize: MaxBatchSize,
			wantBatches:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := New(tt.totalRecords, tt.fileSize)

			assert.Equal(t, tt.totalRecords, plan.TotalRecords)
			assert.Equal(t, tt.wantBatchSize, plan.BatchSize)
			assert.Equal(t, tt.wantBatches, plan.TotalBatches())
		})
	}
}

func TestNew_ChunksCoverAllRows(t *testing.T) {
	plan := New(10500, 10500*1024)
	require.NotEmpty(t, plan.Chunks)

	// Chunks are contiguous, ascending, and cover [0, TotalRecords).
	assert.Equal(t, 0, plan.Chunks[0].Start)
	for i := 1; i < len(plan.Chunks); i++ {
		assert.Equal(t, plan.Chunks[i-1].End, plan.Chunks[i].Start)
	}
	last := plan.Chunks[len(plan.Chunks)-1]
	assert.Equal(t, plan.TotalRecords, last.End)

	// Every chunk except the last is exactly BatchSize rows.
	for i, rng := range plan.Chunks[:len(plan.Chunks)-1] {
		assert.Equal(t, plan.BatchSize, rng.End-rng.Start, "chunk %d", i)
	}
	assert.LessOrEqual(t, last.End-last.Start, plan.BatchSize)
}

func TestNew_CeilDivision(t *testing.T) {
	// 10001 rows at exactly BatchSize density needs one extra chunk for
	// the trailing row.
	plan := New(10001, int64(10001)*1024)
	require.Equal(t, 2048, plan.BatchSize)
	assert.Equal(t, (10001+2047)/2048, plan.TotalBatches())
}
