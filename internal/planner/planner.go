// Package planner computes chunk boundaries for a job from the source
// file's row count and byte size, so chunk sizing tracks row density
// without operator tuning.
package planner

const (
	// MinBatchSize bounds per-chunk round trips.
	MinBatchSize = 100
	// MaxBatchSize bounds per-chunk memory and insert batch size.
	MaxBatchSize = 5000
	// targetChunkBytes is the per-chunk payload budget.
	targetChunkBytes = 2 * 1024 * 1024
)

// Range is a contiguous half-open row range [Start, End).
type Range struct {
	Start int
	End   int
}

// Plan is the ordered set of chunks covering a job's rows with no gaps
// or overlaps.
type Plan struct {
	TotalRecords int
	BatchSize    int
	Chunks       []Range
}

// TotalBatches returns the chunk count, ceil(TotalRecords/BatchSize).
func (p *Plan) TotalBatches() int {
	return len(p.Chunks)
}

// New derives a plan from the row count and file size. Rows per chunk is
// the 2 MiB budget divided by the observed bytes-per-row density, clamped
// to [MinBatchSize, MaxBatchSize]. An empty file resolves to the upper
// clamp so the degenerate plan is still well formed.
func New(totalRecords int, fileSize int64) Plan {
	batchSize := MaxBatchSize
	if totalRecords > 0 && fileSize > 0 {
		bytesPerRow := fileSize / int64(totalRecords)
		if bytesPerRow > 0 {
			batchSize = int(targetChunkBytes / bytesPerRow)
		}
	}
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	plan := Plan{TotalRecords: totalRecords, BatchSize: batchSize}
	for start := 0; start < totalRecords; start += batchSize {
		end := start + batchSize
		if end > totalRecords {
			end = totalRecords
		}
		plan.Chunks = append(plan.Chunks, Range{Start: start, End: end})
	}
	return plan
}
