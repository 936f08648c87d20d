// Package uci adapts a UCI chess engine subprocess to the analysis
// contract the selector consumes. The transport is line-based over the
// engine's stdin/stdout; the engine is a single stateful resource and
// methods must not be called concurrently.
package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chessworks/novelty-grinder/internal/selector"
)

// lc0Options is the engine configuration the selection protocol
// depends on: full-width search so every PV gets its nodes, scores as
// win percentages (hundredths of a percent), and per-PV node counters.
var lc0Options = [][2]string{
	{"MultiPV", "100"},
	{"SmartPruningFactor", "0"},
	{"ScoreType", "win_percentage"},
	{"PerPVCounters", "true"},
}

// Engine is a running UCI engine process.
type Engine struct {
	name string
	id   string

	cmd  *exec.Cmd
	in   io.Writer
	scan *bufio.Scanner
}

// Start launches the engine executable with its registry arguments and
// performs the UCI handshake, applying first the registry options and
// then the fixed analysis options.
func Start(path string, args []string, options map[string]string) (*Engine, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, eris.Wrapf(err, "uci: stdin pipe for %s", path)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, eris.Wrapf(err, "uci: stdout pipe for %s", path)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, eris.Wrapf(err, "uci: stderr pipe for %s", path)
	}

	if err := cmd.Start(); err != nil {
		return nil, eris.Wrapf(err, "uci: start %s", path)
	}

	go drainStderr(path, stderr)

	e := newEngine(path, stdout, stdin)
	e.cmd = cmd

	if err := e.handshake(options); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	return e, nil
}

// NewFromIO attaches an engine to an existing transport. Used by tests
// to script engine behavior; handshake must still be driven by the
// caller via Handshake.
func NewFromIO(name string, r io.Reader, w io.Writer) *Engine {
	return newEngine(name, r, w)
}

func newEngine(name string, r io.Reader, w io.Writer) *Engine {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Engine{name: name, in: w, scan: scan}
}

// Handshake runs the UCI initialization exchange and applies options.
func (e *Engine) Handshake(options map[string]string) error {
	return e.handshake(options)
}

func (e *Engine) handshake(options map[string]string) error {
	if err := e.send("uci"); err != nil {
		return err
	}
	for {
		line, err := e.readLine()
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, "id name ") {
			e.id = strings.TrimPrefix(line, "id name ")
		}
		if line == "uciok" {
			break
		}
	}

	for k, v := range options {
		if err := e.setOption(k, v); err != nil {
			return err
		}
	}
	for _, opt := range lc0Options {
		if err := e.setOption(opt[0], opt[1]); err != nil {
			return err
		}
	}

	return e.sync()
}

// Name returns the configured engine name (registry key).
func (e *Engine) Name() string { return e.name }

// ID returns the name the engine reported during the handshake.
func (e *Engine) ID() string { return e.id }

// NewGame resets engine state between games.
func (e *Engine) NewGame() error {
	if err := e.send("ucinewgame"); err != nil {
		return err
	}
	return e.sync()
}

// Analyze runs a full multi-line search of the position with the given
// node budget and returns the ranked move list, best line first.
func (e *Engine) Analyze(_ context.Context, pos *chess.Position, nodes int64) ([]selector.ScoredMove, error) {
	if err := e.send("position fen " + pos.String()); err != nil {
		return nil, err
	}
	if err := e.send(fmt.Sprintf("go nodes %d", nodes)); err != nil {
		return nil, err
	}

	infos, err := e.collectSearch()
	if err != nil {
		return nil, err
	}
	return rankedMoves(pos, infos)
}

// Deepen extends the search of a single move until it has received at
// least wantNodes nodes. The engine keeps its search tree between
// calls, so the total budget is probed first with a zero-node
// move-restricted query and the new search tops it up by the missing
// amount.
func (e *Engine) Deepen(_ context.Context, pos *chess.Position, move *chess.Move, haveNodes, wantNodes int64) (selector.ScoredMove, error) {
	var zero selector.ScoredMove
	uciMove := move.String()

	// Total-tree node counter, not per-PV, for the probe.
	if err := e.setOption("PerPVCounters", "false"); err != nil {
		return zero, err
	}
	if err := e.send("position fen " + pos.String()); err != nil {
		return zero, err
	}
	if err := e.send("go nodes 0 searchmoves " + uciMove); err != nil {
		return zero, err
	}
	probe, err := e.collectSearch()
	if err != nil {
		return zero, err
	}
	var totalNodes int64
	if len(probe) > 0 {
		totalNodes = probe[0].nodes
	}

	if err := e.setOption("PerPVCounters", "true"); err != nil {
		return zero, err
	}

	delta := wantNodes - haveNodes
	if delta < 0 {
		delta = 0
	}
	if err := e.send(fmt.Sprintf("go nodes %d searchmoves %s", totalNodes+delta, uciMove)); err != nil {
		return zero, err
	}
	infos, err := e.collectSearch()
	if err != nil {
		return zero, err
	}
	if len(infos) == 0 {
		return zero, eris.Errorf("uci: %s returned no lines deepening %s", e.name, uciMove)
	}

	moves, err := rankedMoves(pos, infos[:1])
	if err != nil {
		return zero, err
	}
	return moves[0], nil
}

// Close asks the engine to quit and reaps the process.
func (e *Engine) Close() error {
	if err := e.send("quit"); err != nil && e.cmd != nil {
		_ = e.cmd.Process.Kill()
	}
	if e.cmd != nil {
		return eris.Wrapf(e.cmd.Wait(), "uci: wait %s", e.name)
	}
	return nil
}

// collectSearch reads info lines until bestmove, keeping the last info
// per multipv rank.
func (e *Engine) collectSearch() ([]searchInfo, error) {
	byRank := make(map[int]searchInfo)
	for {
		line, err := e.readLine()
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, "bestmove") {
			break
		}
		// Keep only complete lines; node-count-only updates and
		// currmove chatter must not clobber a ranked line.
		if info, ok := parseInfo(line); ok && info.hasScore && len(info.pvUCI) > 0 {
			byRank[info.multipv] = info
		}
	}

	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)

	infos := make([]searchInfo, 0, len(ranks))
	for _, r := range ranks {
		infos = append(infos, byRank[r])
	}
	return infos, nil
}

// rankedMoves converts parsed infos into scored moves, dropping lines
// without a score or a move.
func rankedMoves(pos *chess.Position, infos []searchInfo) ([]selector.ScoredMove, error) {
	moves := make([]selector.ScoredMove, 0, len(infos))
	for _, info := range infos {
		if !info.hasScore || len(info.pvUCI) == 0 {
			continue
		}
		pv, err := decodePV(pos, info.pvUCI)
		if err != nil {
			return nil, err
		}
		moves = append(moves, selector.ScoredMove{
			Move:  pv[0],
			Score: info.score,
			Nodes: info.nodes,
			PV:    pv,
		})
	}
	return moves, nil
}

// decodePV resolves a UCI move sequence against the position.
func decodePV(pos *chess.Position, ucis []string) ([]*chess.Move, error) {
	pv := make([]*chess.Move, 0, len(ucis))
	cur := pos
	for _, u := range ucis {
		m, err := chess.UCINotation{}.Decode(cur, u)
		if err != nil {
			return nil, eris.Wrapf(err, "uci: bad pv move %q", u)
		}
		pv = append(pv, m)
		cur = cur.Update(m)
	}
	return pv, nil
}

func (e *Engine) send(cmd string) error {
	zap.L().Debug("uci send", zap.String("engine", e.name), zap.String("cmd", cmd))
	if _, err := io.WriteString(e.in, cmd+"\n"); err != nil {
		return eris.Wrapf(err, "uci: write to %s", e.name)
	}
	return nil
}

func (e *Engine) setOption(name, value string) error {
	return e.send(fmt.Sprintf("setoption name %s value %s", name, value))
}

// sync flushes pending engine work with isready/readyok.
func (e *Engine) sync() error {
	if err := e.send("isready"); err != nil {
		return err
	}
	for {
		line, err := e.readLine()
		if err != nil {
			return err
		}
		if line == "readyok" {
			return nil
		}
	}
}

func (e *Engine) readLine() (string, error) {
	if !e.scan.Scan() {
		if err := e.scan.Err(); err != nil {
			return "", eris.Wrapf(err, "uci: read from %s", e.name)
		}
		return "", eris.Errorf("uci: %s closed its output", e.name)
	}
	line := strings.TrimSpace(e.scan.Text())
	zap.L().Debug("uci recv", zap.String("engine", e.name), zap.String("line", line))
	return line, nil
}

func drainStderr(name string, r io.Reader) {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		zap.L().Debug("engine stderr", zap.String("engine", name), zap.String("line", scan.Text()))
	}
}
