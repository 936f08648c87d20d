package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chessworks/novelty-grinder/internal/diagram"
	"github.com/chessworks/novelty-grinder/internal/gametree"
	"github.com/chessworks/novelty-grinder/internal/grinder"
	"github.com/chessworks/novelty-grinder/internal/registry"
	"github.com/chessworks/novelty-grinder/internal/selector"
	"github.com/chessworks/novelty-grinder/internal/store"
	"github.com/chessworks/novelty-grinder/internal/uci"
	"github.com/chessworks/novelty-grinder/pkg/lichess"
)

var (
	grindEngine      string
	grindWhiteEngine string
	grindBlackEngine string
	grindEnginesJSON string
	grindTokenFile   string

	grindNodes             uint64
	grindDoubleCheckNodes  int64
	grindEvalThreshold     uint64
	grindInitialEvalMargin uint64
	grindRarityFreq        float64
	grindRarityCount       uint64
	grindFirstMove         int
	grindBookCutoff        uint64
	grindPVPlies           int
	grindConcurrency       int

	grindArrows       bool
	grindIncludeInput bool
	grindSummary      bool
	grindDiagrams     string
	grindNoCache      bool
)

var grindCmd = &cobra.Command{
	Use:   "grind [flags] FILE.pgn [FILE.pgn...]",
	Short: "Search games for novelties and rare strong moves",
	Long: "Analyzes every position of the input games with a UCI engine and the\n" +
		"Lichess masters database. Engine-approved moves that are rare or absent\n" +
		"in the database are annotated as suggestions or novelties. The annotated\n" +
		"PGN is written to stdout; use \"-\" to read games from stdin.",
	Args: cobra.MinimumNArgs(1),
	RunE: runGrind,
}

func init() {
	f := grindCmd.Flags()

	f.StringVarP(&grindEngine, "engine", "e", "", "analysis engine for both sides")
	f.StringVarP(&grindWhiteEngine, "white-engine", "w", "", "engine for white side analysis")
	f.StringVarP(&grindBlackEngine, "black-engine", "b", "", "engine for black side analysis")
	f.StringVarP(&grindEnginesJSON, "engines-json", "E", "", "Nibbler engines.json file")
	f.StringVarP(&grindTokenFile, "lichess-token-file", "T", "", "Lichess API token file")

	f.Uint64VarP(&grindNodes, "nodes", "n", 100_000, "nodes per position to analyze")
	f.Int64Var(&grindDoubleCheckNodes, "double-check-nodes", -1,
		"focused analysis node floor for candidate moves (-1: 10% of --nodes)")
	f.Uint64Var(&grindEvalThreshold, "eval-threshold", 200,
		"max win-percentage drop from the top move, in hundredths of a percent")
	f.Uint64Var(&grindInitialEvalMargin, "initial-eval-margin", 300,
		"extra margin for the initial analysis threshold")
	f.Float64Var(&grindRarityFreq, "rarity-threshold-freq", 0.05,
		"book moves played at most this frequency count as rare")
	f.Uint64Var(&grindRarityCount, "rarity-threshold-count", 0,
		"book moves played at most this many times count as rare regardless of frequency")
	f.IntVar(&grindFirstMove, "first-move", 1, "first move to analyze")
	f.Uint64Var(&grindBookCutoff, "book-cutoff", 2,
		"stop analyzing a line when the book has fewer games than this")
	f.IntVar(&grindPVPlies, "pv-plies", 1, "PV plies to add in suggestion variations")
	f.IntVar(&grindConcurrency, "concurrency", 1, "games analyzed in parallel, each with its own engines")

	f.BoolVar(&grindArrows, "arrows", false, "add arrows to the PGN: red = novelty, green = unpopular move")
	f.BoolVar(&grindIncludeInput, "include-input", false, "include input moves in the analysis")
	f.BoolVar(&grindSummary, "summary", false, "write a surprise-move summary to stderr")
	f.StringVar(&grindDiagrams, "diagrams", "",
		"write SVG diagrams of positions with finds; {} in PATTERN becomes the move number")
	f.BoolVar(&grindNoCache, "no-cache", false, "disable the local opening explorer cache")

	grindCmd.MarkFlagsMutuallyExclusive("engine", "white-engine")
	grindCmd.MarkFlagsMutuallyExclusive("engine", "black-engine")

	rootCmd.AddCommand(grindCmd)
}

func runGrind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	applyFlagOverrides(cmd)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if grindEngine == "" && grindWhiteEngine == "" && grindBlackEngine == "" {
		return eris.New("an analysis engine must be specified: use --engine or --white-engine/--black-engine")
	}
	if cfg.Output.Diagrams != "" {
		if err := diagram.ValidatePattern(cfg.Output.Diagrams); err != nil {
			return err
		}
	}

	th := selector.Thresholds{
		InitialNodes:      int64(cfg.Analysis.Nodes),
		DoubleCheckNodes:  cfg.Analysis.DoubleCheckNodes,
		EvalThreshold:     int(cfg.Analysis.EvalThreshold),
		InitialEvalMargin: int(cfg.Analysis.InitialEvalMargin),
		RarityFreq:        cfg.Analysis.RarityFreq,
		RarityCount:       cfg.Analysis.RarityCount,
		BookCutoff:        cfg.Analysis.BookCutoff,
		FirstMove:         cfg.Analysis.FirstMove,
		IncludeInput:      cfg.Analysis.IncludeInput,
	}
	if err := th.Validate(); err != nil {
		return err
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	whiteName := grindEngine
	blackName := grindEngine
	if grindWhiteEngine != "" {
		whiteName = grindWhiteEngine
	}
	if grindBlackEngine != "" {
		blackName = grindBlackEngine
	}
	summaryName := grindEngine
	if grindWhiteEngine != "" {
		summaryName = grindWhiteEngine
	}
	if grindBlackEngine != "" {
		summaryName = grindBlackEngine
	}

	// Engine names resolve before any game is read so a typo fails the
	// run immediately.
	factory, err := engineFactory(reg, whiteName, blackName)
	if err != nil {
		return err
	}

	games, err := loadGames(args)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		return eris.New("no parseable games in the input")
	}

	client, err := lichessClient()
	if err != nil {
		return err
	}

	var st store.Store
	if !cfg.Cache.Disabled {
		sqlite, err := store.NewSQLite(cfg.Cache.Path)
		if err != nil {
			return eris.Wrap(err, "open explorer cache")
		}
		defer sqlite.Close()
		if err := sqlite.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate explorer cache")
		}
		st = sqlite
	}

	explorer := grinder.NewExplorer(client, st, time.Duration(cfg.Cache.TTLHours)*time.Hour)

	var run *store.Run
	if st != nil {
		if run, err = st.CreateRun(ctx, summaryName); err != nil {
			return eris.Wrap(err, "record run")
		}
	}

	gr := grinder.New(grinder.Options{
		Thresholds:  th,
		Arrows:      cfg.Output.Arrows,
		PVPlies:     cfg.Output.PVPlies,
		Summary:     cfg.Output.Summary,
		Diagrams:    cfg.Output.Diagrams,
		Concurrency: cfg.Analysis.Concurrency,
		WhiteName:   whiteName,
		BlackName:   blackName,
		SummaryName: summaryName,
		Version:     version,
	}, explorer, factory)

	stats, err := gr.Run(ctx, games, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	if st != nil && run != nil {
		result := &store.RunResult{
			Games:      stats.Games,
			Positions:  stats.Positions,
			Suggested:  stats.Suggested,
			Novelties:  stats.Novelties,
			NodesSpent: uint64(stats.NodesSpent),
		}
		if err := st.FinishRun(ctx, run.ID, result); err != nil {
			zap.L().Warn("finish run record failed", zap.Error(err))
		}
	}

	zap.L().Info("done",
		zap.Int("games", stats.Games),
		zap.Int("positions", stats.Positions),
		zap.Int("suggested", stats.Suggested),
		zap.Int("novelties", stats.Novelties),
		zap.Int64("nodes", stats.NodesSpent),
	)
	return nil
}

// applyFlagOverrides copies explicitly set flags over the file/env
// configuration.
func applyFlagOverrides(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("nodes") {
		cfg.Analysis.Nodes = grindNodes
	}
	if f.Changed("double-check-nodes") {
		cfg.Analysis.DoubleCheckNodes = grindDoubleCheckNodes
	}
	if f.Changed("eval-threshold") {
		cfg.Analysis.EvalThreshold = grindEvalThreshold
	}
	if f.Changed("initial-eval-margin") {
		cfg.Analysis.InitialEvalMargin = grindInitialEvalMargin
	}
	if f.Changed("rarity-threshold-freq") {
		cfg.Analysis.RarityFreq = grindRarityFreq
	}
	if f.Changed("rarity-threshold-count") {
		cfg.Analysis.RarityCount = grindRarityCount
	}
	if f.Changed("first-move") {
		cfg.Analysis.FirstMove = grindFirstMove
	}
	if f.Changed("book-cutoff") {
		cfg.Analysis.BookCutoff = grindBookCutoff
	}
	if f.Changed("concurrency") {
		cfg.Analysis.Concurrency = grindConcurrency
	}
	if f.Changed("include-input") {
		cfg.Analysis.IncludeInput = grindIncludeInput
	}
	if f.Changed("arrows") {
		cfg.Output.Arrows = grindArrows
	}
	if f.Changed("pv-plies") {
		cfg.Output.PVPlies = grindPVPlies
	}
	if f.Changed("summary") {
		cfg.Output.Summary = grindSummary
	}
	if f.Changed("diagrams") {
		cfg.Output.Diagrams = grindDiagrams
	}
	if f.Changed("no-cache") {
		cfg.Cache.Disabled = grindNoCache
	}
	if f.Changed("engines-json") {
		cfg.Registry.Path = grindEnginesJSON
	}
	if f.Changed("lichess-token-file") {
		cfg.Lichess.TokenFile = grindTokenFile
	}
}

// loadGames parses all input files ("-" means stdin), skipping games
// that fail to parse.
func loadGames(paths []string) ([]*gametree.Game, error) {
	var games []*gametree.Game
	for _, path := range paths {
		var r io.Reader
		if path == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(path)
			if err != nil {
				return nil, eris.Wrapf(err, "open %s", path)
			}
			defer f.Close()
			r = f
		}

		results, err := gametree.ParseAll(r)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		for _, res := range results {
			if res.Err != nil {
				zap.L().Warn("skipping unparseable game",
					zap.String("file", path),
					zap.Int("game", res.Ordinal),
					zap.Error(res.Err),
				)
				continue
			}
			games = append(games, res.Game)
		}
	}
	return games, nil
}

// loadRegistry reads the engines file named by flag or config, falling
// back to the platform default Nibbler location. A missing default file
// is not an error; engines then resolve as literal paths.
func loadRegistry() (*registry.Registry, error) {
	path := cfg.Registry.Path
	explicit := path != ""
	if !explicit {
		def, err := registry.DefaultPath()
		if err != nil {
			zap.L().Debug("no default registry location", zap.Error(err))
			return registry.Empty(), nil
		}
		path = def
	}

	reg, err := registry.Load(path)
	if err != nil {
		if !explicit && os.IsNotExist(eris.Cause(err)) {
			zap.L().Debug("default registry not found", zap.String("path", path))
			return registry.Empty(), nil
		}
		return nil, err
	}
	zap.L().Info("engine registry loaded", zap.String("path", path), zap.Int("engines", len(reg.Paths())))
	return reg, nil
}

// engineFactory resolves the engine names now and starts fresh engine
// processes on each call. With a shared engine name, one process serves
// both colors.
func engineFactory(reg *registry.Registry, whiteName, blackName string) (grinder.EngineFactory, error) {
	type launch struct {
		path  string
		entry registry.Entry
	}
	resolve := func(name string) (*launch, error) {
		if name == "" {
			return nil, nil
		}
		path, entry, err := reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		return &launch{path: path, entry: entry}, nil
	}

	white, err := resolve(whiteName)
	if err != nil {
		return nil, err
	}
	black, err := resolve(blackName)
	if err != nil {
		return nil, err
	}
	shared := white != nil && black != nil && white.path == black.path

	start := func(s *launch) (*uci.Engine, error) {
		e, err := uci.Start(s.path, s.entry.Args, s.entry.OptionStrings())
		if err != nil {
			return nil, err
		}
		if err := e.NewGame(); err != nil {
			e.Close()
			return nil, err
		}
		return e, nil
	}

	return func(ctx context.Context) (*grinder.Engines, error) {
		eng := &grinder.Engines{}
		var procs []*uci.Engine
		eng.Close = func() {
			for _, p := range procs {
				if err := p.Close(); err != nil {
					zap.L().Warn("engine shutdown failed", zap.String("engine", p.Name()), zap.Error(err))
				}
			}
		}

		if white != nil {
			e, err := start(white)
			if err != nil {
				return nil, err
			}
			procs = append(procs, e)
			eng.White = e
			if shared {
				eng.Black = e
				return eng, nil
			}
		}
		if black != nil {
			e, err := start(black)
			if err != nil {
				eng.Close()
				return nil, err
			}
			procs = append(procs, e)
			eng.Black = e
		}
		return eng, nil
	}, nil
}

// lichessClient builds the explorer client, reading the optional API
// token file.
func lichessClient() (lichess.Client, error) {
	opts := []lichess.Option{
		lichess.WithBaseURL(cfg.Lichess.BaseURL),
		lichess.WithRateLimit(rate.Limit(cfg.Lichess.RateLimit), cfg.Lichess.Burst),
	}
	if cfg.Lichess.TokenFile != "" {
		data, err := os.ReadFile(cfg.Lichess.TokenFile)
		if err != nil {
			return nil, eris.Wrapf(err, "read lichess token file %s", cfg.Lichess.TokenFile)
		}
		opts = append(opts, lichess.WithToken(strings.TrimSpace(string(data))))
	}
	return lichess.NewClient(opts...), nil
}
