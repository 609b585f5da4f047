// sieve/batch.go
package sieve

// Batch is a half-open range [Start, End) of record indexes.
type Batch struct {
	Index int // 0-based
	Start int
	End   int
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return b.End - b.Start
}

// BatchSize is total/maxBatches, floored, but never below 1.
func BatchSize(total, maxBatches int) int {
	if maxBatches < 1 {
		maxBatches = 1
	}
	size := total / maxBatches
	if size < 1 {
		size = 1
	}
	return size
}

// Plan splits total records into consecutive batches of BatchSize. The
// batches cover [0, total) with no gaps or overlaps; the last one may be
// short. Because the size is floored, the count can slightly exceed
// maxBatches (1234 records over 50 gives 52 batches of 24, the last of 10).
func Plan(total, maxBatches int) []Batch {
	if total <= 0 {
		return nil
	}
	size := BatchSize(total, maxBatches)
	n := (total + size - 1) / size

	batches := make([]Batch, 0, n)
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if end > total {
			end = total
		}
		batches = append(batches, Batch{Index: i, Start: start, End: end})
	}
	return batches
}
