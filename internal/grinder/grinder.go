// Package grinder orchestrates a run: it walks each input game, feeds
// positions to the selector, writes annotations back into the tree, and
// emits the annotated PGN and per-game reports.
package grinder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chessworks/novelty-grinder/internal/annotate"
	"github.com/chessworks/novelty-grinder/internal/diagram"
	"github.com/chessworks/novelty-grinder/internal/gametree"
	"github.com/chessworks/novelty-grinder/internal/selector"
	"github.com/chessworks/novelty-grinder/internal/summary"
)

// Engines is one worker's pair of analyzers. Either color may be nil,
// in which case that side's positions are skipped.
type Engines struct {
	White selector.Analyzer
	Black selector.Analyzer
	Close func()
}

// EngineFactory starts a fresh engine pair. Each concurrent game gets
// its own pair since a UCI engine analyzes one position at a time.
type EngineFactory func(ctx context.Context) (*Engines, error)

// Options configures a run.
type Options struct {
	Thresholds selector.Thresholds

	Arrows   bool
	PVPlies  int
	Summary  bool
	Diagrams string

	Concurrency int

	// WhiteName and BlackName feed the Annotator header; SummaryName
	// identifies the engine in per-game reports.
	WhiteName   string
	BlackName   string
	SummaryName string
	Version     string
}

// Stats is the aggregate outcome of a run.
type Stats struct {
	Games      int
	Positions  int
	Suggested  int
	Novelties  int
	NodesSpent int64
}

// Grinder runs the analysis pipeline over parsed games.
type Grinder struct {
	opts     Options
	explorer selector.Explorer
	engines  EngineFactory
	now      func() time.Time
}

// New builds a grinder. Thresholds must already be validated.
func New(opts Options, explorer selector.Explorer, engines EngineFactory) *Grinder {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PVPlies < 1 {
		opts.PVPlies = 1
	}
	return &Grinder{opts: opts, explorer: explorer, engines: engines, now: time.Now}
}

// Run analyzes every game and writes the annotated PGN to out in input
// order. Per-game reports go to errOut when enabled. Engine failures
// abort the whole run.
func (gr *Grinder) Run(ctx context.Context, games []*gametree.Game, out, errOut io.Writer) (Stats, error) {
	aggs := make([]*summary.Aggregator, len(games))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(gr.opts.Concurrency)

	for i, game := range games {
		i, game := i, game
		eg.Go(func() error {
			zap.L().Info("analyzing game",
				zap.Int("game", i+1),
				zap.String("white", game.Tag("White")),
				zap.String("black", game.Tag("Black")),
			)

			eng, err := gr.engines(ctx)
			if err != nil {
				return eris.Wrapf(err, "grinder: start engines for game %d", i+1)
			}
			defer eng.Close()

			agg, err := gr.annotateGame(ctx, game, eng)
			if err != nil {
				return eris.Wrapf(err, "grinder: game %d", i+1)
			}
			aggs[i] = agg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Games: len(games)}
	for i, game := range games {
		if err := gametree.Write(out, game); err != nil {
			return stats, err
		}
		if _, err := io.WriteString(out, "\n"); err != nil {
			return stats, eris.Wrap(err, "grinder: write output")
		}

		if gr.opts.Summary {
			if err := aggs[i].Render(errOut, game); err != nil {
				return stats, eris.Wrap(err, "grinder: render summary")
			}
		}

		positions, suggested, novelties, nodes := aggs[i].Counts()
		stats.Positions += positions
		stats.Suggested += suggested
		stats.Novelties += novelties
		stats.NodesSpent += nodes
	}
	return stats, nil
}

// annotateGame walks one game, evaluating every reachable position with
// the side-to-move engine and applying the verdicts to the tree.
func (gr *Grinder) annotateGame(ctx context.Context, game *gametree.Game, eng *Engines) (*summary.Aggregator, error) {
	gr.stampAnnotator(game)

	th := gr.opts.Thresholds
	var selWhite, selBlack *selector.Selector
	if eng.White != nil {
		selWhite = selector.New(eng.White, gr.explorer, th)
	}
	if eng.Black != nil {
		selBlack = selector.New(eng.Black, gr.explorer, th)
	}

	agg := summary.New(gr.opts.SummaryName)
	em := &annotate.Emitter{Arrows: gr.opts.Arrows, PVPlies: gr.opts.PVPlies}

	err := gametree.Walk(game, th.FirstMove, func(step gametree.Step) (bool, error) {
		sel := selWhite
		side := "w"
		if step.Turn == chess.Black {
			sel = selBlack
			side = "b"
		}
		if sel == nil {
			return false, nil
		}

		zap.L().Debug("analyzing position",
			zap.String("move", fmt.Sprintf("%d%s", step.MoveNumber, side)),
			zap.Int("ply", step.Ply),
		)

		v, err := sel.Evaluate(ctx, selector.Input{
			Position:   step.Position,
			MoveNumber: step.MoveNumber,
			Ply:        step.Ply,
			Played:     step.Played,
		})
		if err != nil {
			return false, err
		}

		em.Apply(step.Node, v)

		if v.BookCutoff {
			zap.L().Info("book cutoff",
				zap.String("move", fmt.Sprintf("%d%s", step.MoveNumber, side)),
				zap.Uint64("games", v.TotalGames),
			)
			return true, nil
		}

		gr.recordVerdict(agg, step, v)

		if isMainline(step.Node) {
			agg.SetAnalyzedLine(summary.AnalyzedLine(game, step.Ply+1))
		}

		if gr.opts.Diagrams != "" {
			gr.writeDiagram(step, v)
		}

		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (gr *Grinder) recordVerdict(agg *summary.Aggregator, step gametree.Step, v *selector.PositionVerdict) {
	agg.AddBookStats(step.Ply, v.TotalGames)

	suggested, novelties := 0, 0
	for _, c := range v.Accepted() {
		if c.Class == selector.Novelty {
			novelties++
		} else {
			suggested++
		}
		if !c.Unpopular {
			continue
		}
		agg.AddSurprise(step.Ply, summary.FormatSurprise(
			step.Position,
			gr.surprisePV(c),
			c.Popularity,
			c.Class == selector.Novelty,
			c.InputMove,
		))
	}
	agg.CountVerdict(suggested, novelties, v.NodesSpent)
}

// surprisePV is the move sequence a report line shows: just the move
// for input moves, otherwise the annotated slice of the engine line.
func (gr *Grinder) surprisePV(c *selector.CandidateMove) []*chess.Move {
	if c.InputMove || len(c.PV) == 0 {
		return []*chess.Move{c.Move}
	}
	n := gr.opts.PVPlies
	if n > len(c.PV) {
		n = len(c.PV)
	}
	return c.PV[:n]
}

// writeDiagram renders the position with its suggestion arrows. The
// game's own moves draw dimmed under them. Diagram failures are logged,
// never fatal.
func (gr *Grinder) writeDiagram(step gametree.Step, v *selector.PositionVerdict) {
	// The game's continuation comes from the walker's snapshot, not
	// from Children: annotation has already appended suggestion
	// variations to the node by now.
	var mainMove *chess.Move
	var mainSAN string
	if len(step.Played) > 0 {
		mainMove = step.Played[0]
		mainSAN = chess.AlgebraicNotation{}.Encode(step.Position, mainMove)
	}

	var greens, reds []diagram.Arrow
	primaryDrawn := false
	for _, c := range v.Accepted() {
		if !c.Unpopular {
			continue
		}
		primary := c.SAN == mainSAN
		if primary {
			primaryDrawn = true
		}
		a := diagram.Arrow{From: c.Move.S1(), To: c.Move.S2()}
		if c.Class == selector.Novelty {
			a.Color = diagram.ColorNovelty
			if primary {
				a.Color = diagram.ColorNoveltyMain
			}
			reds = append(reds, a)
		} else {
			a.Color = diagram.ColorUnpopular
			if primary {
				a.Color = diagram.ColorUnpopularMain
			}
			greens = append(greens, a)
		}
	}
	if len(greens)+len(reds) == 0 {
		return
	}

	var arrows []diagram.Arrow
	if step.Node.Move != nil {
		arrows = append(arrows, diagram.Arrow{
			From: step.Node.Move.S1(), To: step.Node.Move.S2(), Color: diagram.ColorLastMove,
		})
	}
	if mainMove != nil && !primaryDrawn {
		arrows = append(arrows, diagram.Arrow{
			From: mainMove.S1(), To: mainMove.S2(), Color: diagram.ColorNextMove,
		})
	}
	arrows = append(arrows, greens...)
	arrows = append(arrows, reds...)

	name := diagram.FileName(gr.opts.Diagrams, step.MoveNumber, step.Turn)
	zap.L().Info("writing diagram", zap.String("file", name))
	if err := diagram.WriteFile(name, step.Position, arrows); err != nil {
		zap.L().Warn("diagram write failed", zap.String("file", name), zap.Error(err))
	}
}

// stampAnnotator records the tool, engines and database in the game
// header.
func (gr *Grinder) stampAnnotator(game *gametree.Game) {
	parts := []string{"Novelty Grinder " + gr.opts.Version}
	if gr.opts.WhiteName != "" {
		parts = append(parts, "White: "+gr.opts.WhiteName)
	}
	if gr.opts.BlackName != "" {
		parts = append(parts, "Black: "+gr.opts.BlackName)
	}
	parts = append(parts, "Lichess Masters DB", gr.now().Format("2006-01-02"))
	game.SetTag("Annotator", strings.Join(parts, "; "))
}

// isMainline reports whether every ancestor link of n is a first child.
func isMainline(n *gametree.Node) bool {
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		if cur.Parent.Children[0] != cur {
			return false
		}
	}
	return true
}
