package logcollector

// DefaultPoolSize matches original_source's ENTRY_POOL_SIZE
// (== MAX_QUEUE_SIZE, 500 on the single-core build).
const DefaultPoolSize = 500

// pool is a pre-allocated array of LogEntry records, acquired and
// released by index rather than allocated per log line (spec.md §4.9:
// "acquiring an entry scans for the first !in_use").
type pool struct {
	entries []LogEntry
	inUse   []bool
	dropped int64
}

func newPool(size int) *pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &pool{
		entries: make([]LogEntry, size),
		inUse:   make([]bool, size),
	}
}

// acquire returns a pointer to the first free entry, or ok=false if
// the pool is exhausted, incrementing the dropped counter exactly
// once per exhausted acquire (spec.md §8's testable property).
func (p *pool) acquire() (idx int, ok bool) {
	for i, used := range p.inUse {
		if !used {
			p.inUse[i] = true
			return i, true
		}
	}
	p.dropped++
	return 0, false
}

// release zeroes the entry's fields and clears its in-use flag
// (spec.md §4.9: "Release zeroes the string fields and clears the
// flag").
func (p *pool) release(idx int) {
	p.entries[idx].reset()
	p.inUse[idx] = false
}

func (p *pool) get(idx int) *LogEntry {
	return &p.entries[idx]
}

func (p *pool) size() int {
	return len(p.entries)
}

func (p *pool) dropCount() int64 {
	return p.dropped
}
