// Package summary collects per-game analysis statistics and renders
// the human-readable report written to stderr after each game.
package summary

import (
	"fmt"
	"io"

	"github.com/notnil/chess"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/chessworks/novelty-grinder/internal/gametree"
)

// Aggregator accumulates surprise moves and book statistics for one
// game. It is not safe for concurrent use; each game gets its own.
type Aggregator struct {
	engine       string
	analyzedLine string

	plyOrder  []int
	surprises map[int][]string
	bookStats map[int]uint64

	positions  int
	suggested  int
	novelties  int
	nodesSpent int64
}

// New creates an aggregator reporting for the named engine.
func New(engine string) *Aggregator {
	return &Aggregator{
		engine:    engine,
		surprises: map[int][]string{},
		bookStats: map[int]uint64{},
	}
}

// SetAnalyzedLine records the SAN mainline covered by the analysis so
// far.
func (a *Aggregator) SetAnalyzedLine(line string) {
	a.analyzedLine = line
}

// AddBookStats records the database game count of an analyzed position.
func (a *Aggregator) AddBookStats(ply int, totalGames uint64) {
	a.bookStats[ply] = totalGames
}

// AddSurprise records one formatted surprise move at a ply. Plies
// render in first-seen order.
func (a *Aggregator) AddSurprise(ply int, text string) {
	if _, ok := a.surprises[ply]; !ok {
		a.plyOrder = append(a.plyOrder, ply)
	}
	a.surprises[ply] = append(a.surprises[ply], text)
}

// CountVerdict tallies position-level statistics.
func (a *Aggregator) CountVerdict(suggested, novelties int, nodesSpent int64) {
	a.positions++
	a.suggested += suggested
	a.novelties += novelties
	a.nodesSpent += nodesSpent
}

// Counts returns the tallies accumulated so far.
func (a *Aggregator) Counts() (positions, suggested, novelties int, nodesSpent int64) {
	return a.positions, a.suggested, a.novelties, a.nodesSpent
}

// Render writes the per-game report. The heading identifies the game
// by its Round, White and Black tags.
func (a *Aggregator) Render(w io.Writer, g *gametree.Game) error {
	p := message.NewPrinter(language.English)

	_, err := p.Fprintf(w,
		"==================================\nSummary:\n\nEngine: %s\nRound %s: %s - %s\n\n%s\n",
		a.engine, g.Tag("Round"), g.Tag("White"), g.Tag("Black"), a.analyzedLine)
	if err != nil {
		return err
	}

	for _, ply := range a.plyOrder {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		for _, text := range a.surprises[ply] {
			if _, err := fmt.Fprintln(w, text); err != nil {
				return err
			}
		}
		if _, err := p.Fprintf(w, "(N=%d)\n", a.bookStats[ply]); err != nil {
			return err
		}
	}

	_, err = fmt.Fprint(w, "\n==================================\n")
	return err
}

// FormatSurprise renders one surprise move the way the report shows
// it: numbered SAN, "!" when the game played it, "N" for a novelty or
// its book popularity otherwise, then the engine continuation.
func FormatSurprise(pos *chess.Position, pv []*chess.Move, freq float64, novelty, inputMove bool) string {
	if len(pv) == 0 {
		return ""
	}

	num := gametree.MoveNumber(pos)
	san := chess.AlgebraicNotation{}.Encode(pos, pv[0])

	var s string
	if pos.Turn() == chess.White {
		s = fmt.Sprintf("%d. %s", num, san)
	} else {
		s = fmt.Sprintf("%d... %s", num, san)
	}
	if inputMove {
		s += "!"
	}

	forceNumber := false
	if novelty {
		s += "N"
	} else {
		s += fmt.Sprintf(" Popularity=%.2f%%", freq*100)
		forceNumber = true
	}

	cur := pos.Update(pv[0])
	for i := 1; i < len(pv); i++ {
		moveSAN := chess.AlgebraicNotation{}.Encode(cur, pv[i])
		switch {
		case cur.Turn() == chess.White:
			s += fmt.Sprintf(" %d. %s", gametree.MoveNumber(cur), moveSAN)
		case i == 1 && forceNumber:
			s += fmt.Sprintf(" %d... %s", gametree.MoveNumber(cur), moveSAN)
		default:
			s += " " + moveSAN
		}
		cur = cur.Update(pv[i])
	}
	return s
}

// AnalyzedLine renders the SAN mainline of a game up to and including
// the given ply count (0 means the whole mainline).
func AnalyzedLine(g *gametree.Game, maxPly int) string {
	var s string
	node := g.Root
	ply := 0
	for len(node.Children) > 0 {
		child := node.Children[0]
		ply++
		if maxPly > 0 && ply > maxPly {
			break
		}
		if node.Position().Turn() == chess.White {
			if s != "" {
				s += " "
			}
			s += fmt.Sprintf("%d. %s", gametree.MoveNumber(node.Position()), child.SAN)
		} else {
			if s == "" {
				s = fmt.Sprintf("%d... %s", gametree.MoveNumber(node.Position()), child.SAN)
			} else {
				s += " " + child.SAN
			}
		}
		node = child
	}
	return s
}
