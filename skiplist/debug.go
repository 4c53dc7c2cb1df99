package skiplist

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// LevelStats tallies one sub-list at a quiescent point.
type LevelStats struct {
	// PerHeight[h] counts nodes whose tower height is h+1.
	PerHeight [MaxHeight]int
	// Chain[l] counts nodes reachable on the level-l chain.
	Chain [MaxHeight]int
	Live, Deleted, Unlinking int
}

// levelStats walks one sub-list. Quiescent only.
func (s *SkipList) levelStats(root rmem.Ptr) LevelStats {
	var st LevelStats
	scratch := make([]uint64, NodeWords)

	for level := MaxHeight - 1; level >= 0; level-- {
		curr := s.readNode(root, scratch, cache.DepthAlways)
		for !curr.next(level).IsNull() {
			curr = s.readNode(curr.next(level), scratch, MaxHeight-curr.height())
			st.Chain[level]++
			if level == 0 {
				st.PerHeight[curr.height()-1]++
				switch curr.value() {
				case DeleteSentinel:
					st.Deleted++
				case UnlinkSentinel:
					st.Unlinking++
				default:
					st.Live++
				}
			}
		}
	}
	return st
}

// Debug renders per-level occupancy of every sub-list to w. Quiescent
// only.
func (s *SkipList) Debug(w io.Writer) {
	for i, root := range s.roots {
		st := s.levelStats(root)
		fmt.Fprintf(w, "sublist %d: live=%d deleted=%d unlinking=%d\n", i, st.Live, st.Deleted, st.Unlinking)

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Level", "Chain Nodes", "Height == Level+1"})
		table.SetAlignment(tablewriter.ALIGN_CENTER)
		table.SetAutoWrapText(false)
		for level := MaxHeight - 1; level >= 0; level-- {
			table.Append([]string{
				fmt.Sprintf("%d", level),
				fmt.Sprintf("%d", st.Chain[level]),
				fmt.Sprintf("%d", st.PerHeight[level]),
			})
		}
		table.Render()
	}
}
