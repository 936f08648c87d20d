// Package annotate writes position verdicts into the game tree as PGN
// comments, variations and numeric annotation glyphs.
package annotate

import (
	"fmt"
	"strings"

	"github.com/chessworks/novelty-grinder/internal/gametree"
	"github.com/chessworks/novelty-grinder/internal/selector"
)

// NAG values used in the output. 146 is the glyph for a novelty, 1 is
// "good move".
const (
	nagGoodMove = 1
	nagNovelty  = 146
)

// Emitter applies verdicts to game nodes.
type Emitter struct {
	// Arrows adds a [%cal ...] directive to the position comment:
	// green for unpopular book moves, red for novelties.
	Arrows bool

	// PVPlies is the total length of each suggestion variation in
	// plies, the suggested move included. Values below 1 behave as 1.
	PVPlies int
}

// Apply annotates node with the verdict for its position. Accepted
// candidate moves become variations; the node comment records the book
// game count and the top engine evaluation.
func (e *Emitter) Apply(node *gametree.Node, v *selector.PositionVerdict) {
	comment := fmt.Sprintf("N=%d", v.TotalGames)
	if v.HasAnalysis {
		comment += fmt.Sprintf(" Eval=%s", selector.ScoreString(v.TopScore, v.Turn))
	}

	var green, red []string
	for _, c := range v.Accepted() {
		child := node.ChildBySAN(c.SAN)
		if child == nil {
			child = node.AddUCIMove(c.Move)
		}

		varComment := fmt.Sprintf("Eval=%s", selector.ScoreString(c.Score, v.Turn))
		if c.Class == selector.Novelty {
			child.AddNAG(nagNovelty)
			red = append(red, "R"+c.Move.String())
		} else {
			varComment += fmt.Sprintf(" Popularity=%.2f%%", c.Popularity*100)
			if c.Unpopular {
				green = append(green, "G"+c.Move.String())
			}
		}
		if c.InputMove && c.Unpopular {
			child.AddNAG(nagGoodMove)
		}
		child.AppendComment(varComment)

		if !c.InputMove {
			cur := child
			for i := 1; i < e.PVPlies && i < len(c.PV); i++ {
				cur = cur.AddUCIMove(c.PV[i])
			}
		}
	}

	// Greens first so GUIs that draw arrows in order paint the
	// novelties on top.
	if e.Arrows && len(green)+len(red) > 0 {
		comment += " [%cal " + strings.Join(append(green, red...), ",") + "]"
	}

	node.AppendComment(comment)
}

// SurpriseArrows returns the arrow moves a diagram of this verdict
// should show: unpopular book moves (green) and novelties (red), in
// candidate order.
func SurpriseArrows(v *selector.PositionVerdict) (green, red []string) {
	for _, c := range v.Accepted() {
		if c.Class == selector.Novelty {
			red = append(red, c.Move.String())
		} else if c.Unpopular {
			green = append(green, c.Move.String())
		}
	}
	return green, red
}
