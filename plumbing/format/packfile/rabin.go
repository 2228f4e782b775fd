package packfile

// findCopies locates byte ranges of target that can be reproduced by
// copying from source, using a Rabin-window rolling hash chunk index
// over source: source is split into fixed-size, non-overlapping chunks,
// each chunk's rolling hash is indexed, and then a window is slid across
// target looking up each position's hash in that index. A hit is
// extended both backward and forward into a maximal match before
// falling back to scanning forward past it.
//
// The result holds only copied ranges, as copySpan values in target
// order; the caller fills the target bytes they do not cover with
// literal inserts.
type copySpan struct {
	SourceOffset int
	TargetOffset int
	Length       int
}

const (
	// chunkSize is the width, in bytes, of the rolling-hash window used
	// to index the source buffer. Matches shorter than this are never
	// found; this bounds the chunk index's size to len(source)/chunkSize
	// entries.
	chunkSize = 16
	// rabinBase is the polynomial base for the rolling hash.
	rabinBase = 1048583 // a prime, as is conventional for Rabin fingerprints
)

// rollingHash computes a simple polynomial rolling hash identical to
// Rabin-Karp's, used only to build an index, not for any cryptographic
// property.
func rollingHash(b []byte) uint64 {
	var h uint64
	for _, c := range b {
		h = h*rabinBase + uint64(c)
	}
	return h
}

// buildChunkIndex splits source into chunkSize-byte, non-overlapping
// chunks and maps each chunk's hash to every offset it occurs at.
func buildChunkIndex(source []byte) map[uint64][]int {
	index := make(map[uint64][]int, len(source)/chunkSize+1)
	for off := 0; off+chunkSize <= len(source); off += chunkSize {
		h := rollingHash(source[off : off+chunkSize])
		index[h] = append(index[h], off)
	}
	return index
}

// findCopies scans target for maximal byte ranges that also occur in
// source, using the chunk index built from source.
func findCopies(source, target []byte) []copySpan {
	if len(source) < chunkSize || len(target) < chunkSize {
		return nil
	}

	index := buildChunkIndex(source)

	var spans []copySpan
	pos := 0
	for pos+chunkSize <= len(target) {
		h := rollingHash(target[pos : pos+chunkSize])
		candidates := index[h]
		if len(candidates) == 0 {
			pos++
			continue
		}

		srcStart, tgtStart, length := extendBestMatch(source, target, candidates, pos)
		if length < chunkSize {
			pos++
			continue
		}

		spans = append(spans, copySpan{SourceOffset: srcStart, TargetOffset: tgtStart, Length: length})
		pos = tgtStart + length
	}

	return spans
}

// extendBestMatch re-scans the candidate offsets at the current target
// position and returns the longest match found, extended maximally in
// both directions.
func extendBestMatch(source, target []byte, candidates []int, pos int) (srcStart, tgtStart, length int) {
	bestLen := -1
	for _, srcOff := range candidates {
		if srcOff+chunkSize > len(source) || pos+chunkSize > len(target) {
			continue
		}
		if !bytesEqual(source[srcOff:srcOff+chunkSize], target[pos:pos+chunkSize]) {
			continue
		}

		s, t := srcOff, pos
		for s > 0 && t > 0 && source[s-1] == target[t-1] {
			s--
			t--
		}
		se, te := srcOff+chunkSize, pos+chunkSize
		for se < len(source) && te < len(target) && source[se] == target[te] {
			se++
			te++
		}

		if l := se - s; l > bestLen {
			bestLen = l
			srcStart = s
			tgtStart = t
			length = l
		}
	}
	return srcStart, tgtStart, length
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
