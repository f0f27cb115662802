package coordinator

import (
	"fmt"

	"github.com/vietddude/harvester/internal/core/domain"
)

// State is the coordinator's position in an export job.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateSharding
	StateFetching
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateSharding:
		return "sharding"
	case StateFetching:
		return "fetching"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Shard is a contiguous, non-overlapping sub-range of message IDs
// assigned to one connection. Cursor pages backward and only ever
// decreases toward Start.
type Shard struct {
	Index  int
	Start  domain.MessageID
	End    domain.MessageID
	Worker int
	Cursor domain.MessageID
}

// Span returns the number of IDs the shard covers.
func (s Shard) Span() int64 {
	return int64(s.End-s.Start) + 1
}

func (s Shard) String() string {
	return fmt.Sprintf("shard %d [%d..%d] worker %d", s.Index, s.Start, s.End, s.Worker)
}

// ComputeShards partitions [minID, maxID] into at most n contiguous,
// non-overlapping ranges of ceil(span/n) IDs. Shard 0 owns the newest
// range. The union of all ranges covers [minID, maxID] exactly; fewer
// than n shards come back when the span is smaller than n.
func ComputeShards(minID, maxID domain.MessageID, n int) []Shard {
	if n < 1 || maxID < minID || minID < 1 {
		return nil
	}

	span := int64(maxID-minID) + 1
	size := (span + int64(n) - 1) / int64(n)

	shards := make([]Shard, 0, n)
	end := maxID
	for i := 0; i < n && end >= minID; i++ {
		start := end - domain.MessageID(size) + 1
		if start < minID {
			start = minID
		}
		shards = append(shards, Shard{
			Index:  i,
			Start:  start,
			End:    end,
			Cursor: end,
		})
		end = start - 1
	}

	return shards
}
