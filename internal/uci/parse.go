package uci

import (
	"strconv"
	"strings"

	"github.com/chessworks/novelty-grinder/internal/selector"
)

// searchInfo is one parsed "info" line from a running search. Only the
// fields the selection protocol consumes are kept.
type searchInfo struct {
	multipv  int
	nodes    int64
	score    int
	hasScore bool
	pvUCI    []string
}

// parseInfo extracts multipv, nodes, score and pv from an engine info
// line. Lines without those fields (currmove updates, string chatter)
// return ok=false.
func parseInfo(line string) (searchInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "info" {
		return searchInfo{}, false
	}

	info := searchInfo{multipv: 1}
	seen := false

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "multipv":
			if i+1 < len(fields) {
				if n, err := strconv.Atoi(fields[i+1]); err == nil {
					info.multipv = n
				}
				i++
			}

		case "nodes":
			if i+1 < len(fields) {
				if n, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
					info.nodes = n
					seen = true
				}
				i++
			}

		case "score":
			if i+2 < len(fields) {
				kind, val := fields[i+1], fields[i+2]
				if n, err := strconv.Atoi(val); err == nil {
					switch kind {
					case "cp":
						info.score = n
						info.hasScore = true
					case "mate":
						info.score = mateScore(n)
						info.hasScore = true
					}
				}
				i += 2
			}

		case "string":
			// Free-form for the rest of the line.
			return info, seen || info.hasScore

		case "pv":
			// The pv field is last by convention; everything after it
			// is moves.
			info.pvUCI = fields[i+1:]
			return info, info.hasScore
		}
	}

	return info, seen || info.hasScore
}

// mateScore maps "mate N" onto the evaluation scale so mates order
// above and below every regular score: ±(MateScore - pliesToMate).
func mateScore(n int) int {
	if n >= 0 {
		return selector.MateScore - n
	}
	return -selector.MateScore - n
}
