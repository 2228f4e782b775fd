package plumbing

import "sort"

func sortHashes(a []Hash) {
	sort.Sort(hashSlice(a))
}

// hashSlice attaches sort.Interface to []Hash, sorting by ascending
// digest bytes.
type hashSlice []Hash

func (p hashSlice) Len() int           { return len(p) }
func (p hashSlice) Less(i, j int) bool { return p[i].Compare(p[j].Bytes()) < 0 }
func (p hashSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
