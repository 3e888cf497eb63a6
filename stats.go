package spanindex

import (
	"sync/atomic"

	"github.com/meigma/spanindex/seek"
)

// Stats counts work done by an Index. All methods are safe for concurrent use.
type Stats struct {
	seeks          atomic.Int64
	returned       atomic.Int64
	discarded      atomic.Int64
	compressedRead atomic.Int64
	fullScans      atomic.Int64
	builds         atomic.Int64
	buildFailures  atomic.Int64
	builtBytes     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	// Seeks is the number of range reads served from a checkpoint.
	Seeks int64

	// BytesReturned is the number of decompressed bytes returned by range reads.
	BytesReturned int64

	// BytesDiscarded is the number of decompressed bytes skipped to reach a range.
	BytesDiscarded int64

	// CompressedBytesRead is the number of compressed bytes read by range reads.
	CompressedBytesRead int64

	// FullScans is the number of whole-file scans made by column filters.
	FullScans int64

	// Builds and BuildFailures count per-file index builds.
	Builds        int64
	BuildFailures int64

	// BuiltBytes is the number of decompressed bytes scanned by builds.
	BuiltBytes int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Seeks:               s.seeks.Load(),
		BytesReturned:       s.returned.Load(),
		BytesDiscarded:      s.discarded.Load(),
		CompressedBytesRead: s.compressedRead.Load(),
		FullScans:           s.fullScans.Load(),
		Builds:              s.builds.Load(),
		BuildFailures:       s.buildFailures.Load(),
		BuiltBytes:          s.builtBytes.Load(),
	}
}

func (s *Stats) recordRead(rs seek.ReadStats) {
	s.seeks.Add(1)
	s.returned.Add(rs.Returned)
	s.discarded.Add(rs.Discarded)
	s.compressedRead.Add(rs.CompressedRead)
}

func (s *Stats) recordBuild(bytes int64, err error) {
	if err != nil {
		s.buildFailures.Add(1)
		return
	}
	s.builds.Add(1)
	s.builtBytes.Add(bytes)
}
