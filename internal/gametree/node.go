// Package gametree holds the parsed representation of a PGN game:
// an arena of nodes with parent/child links (children never point back
// up the mainline, so the structure is a tree, never a cycle), a
// variation-aware parser, a PGN writer, and the position walker.
package gametree

import (
	"strconv"
	"strings"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
)

// Node is one move of the game tree. The root node carries no move and
// holds the starting position. Children[0] is the mainline
// continuation; later children are variations in source order.
type Node struct {
	Move     *chess.Move
	SAN      string
	Parent   *Node
	Children []*Node

	Comment string
	NAGs    []int

	pos *chess.Position
}

// Position returns the position after this node's move (the starting
// position at the root).
func (n *Node) Position() *chess.Position {
	return n.pos
}

// Ply is the half-move depth from the game start.
func (n *Node) Ply() int {
	ply := 0
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		ply++
	}
	return ply
}

// PlayedMoves returns the moves the game continues with at this node,
// mainline first.
func (n *Node) PlayedMoves() []*chess.Move {
	moves := make([]*chess.Move, 0, len(n.Children))
	for _, c := range n.Children {
		moves = append(moves, c.Move)
	}
	return moves
}

// AddMove appends a child for the given SAN move and returns it. The
// move must be legal in this node's position.
func (n *Node) AddMove(san string) (*Node, error) {
	move, err := chess.AlgebraicNotation{}.Decode(n.pos, san)
	if err != nil {
		return nil, eris.Wrapf(err, "gametree: illegal move %q", san)
	}
	return n.addChild(move), nil
}

// AddUCIMove appends a child for an already-decoded move.
func (n *Node) AddUCIMove(move *chess.Move) *Node {
	return n.addChild(move)
}

func (n *Node) addChild(move *chess.Move) *Node {
	child := &Node{
		Move:   move,
		SAN:    chess.AlgebraicNotation{}.Encode(n.pos, move),
		Parent: n,
		pos:    n.pos.Update(move),
	}
	n.Children = append(n.Children, child)
	return child
}

// ChildBySAN returns the existing child playing the given SAN move,
// or nil.
func (n *Node) ChildBySAN(san string) *Node {
	for _, c := range n.Children {
		if c.SAN == san {
			return c
		}
	}
	return nil
}

// AppendComment adds text to the node comment, separating from any
// existing comment with "; ".
func (n *Node) AppendComment(text string) {
	if n.Comment == "" {
		n.Comment = text
		return
	}
	n.Comment += "; " + text
}

// AddNAG records a numeric annotation glyph, ignoring duplicates.
func (n *Node) AddNAG(nag int) {
	for _, have := range n.NAGs {
		if have == nag {
			return
		}
	}
	n.NAGs = append(n.NAGs, nag)
}

// Tag is one PGN header pair.
type Tag struct {
	Key   string
	Value string
}

// Game is a parsed PGN game: ordered header tags plus the move tree.
type Game struct {
	Tags   []Tag
	Root   *Node
	Result string
}

// NewGame builds an empty game from the standard starting position.
func NewGame() *Game {
	return &Game{
		Root:   &Node{pos: chess.StartingPosition()},
		Result: "*",
	}
}

// NewGameFromFEN builds an empty game starting from an arbitrary
// position.
func NewGameFromFEN(fen string) (*Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, eris.Wrapf(err, "gametree: bad FEN %q", fen)
	}
	g := chess.NewGame(opt)
	return &Game{
		Root:   &Node{pos: g.Position()},
		Result: "*",
	}, nil
}

// Tag returns the value of a header tag, or "".
func (g *Game) Tag(key string) string {
	for _, t := range g.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// SetTag replaces or appends a header tag.
func (g *Game) SetTag(key, value string) {
	for i, t := range g.Tags {
		if t.Key == key {
			g.Tags[i].Value = value
			return
		}
	}
	g.Tags = append(g.Tags, Tag{Key: key, Value: value})
}

// MoveNumber returns the fullmove counter of a position.
func MoveNumber(pos *chess.Position) int {
	return fullmoveNumber(pos)
}

// fullmoveNumber extracts the move counter from a position's FEN.
func fullmoveNumber(pos *chess.Position) int {
	fields := strings.Fields(pos.String())
	if len(fields) < 6 {
		return 1
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
