package gametree

import "github.com/notnil/chess"

// Step is one decision point handed to the walk callback: the node's
// position, where it sits in the game, and the moves the source game
// continues with there.
type Step struct {
	Node       *Node
	Position   *chess.Position
	MoveNumber int
	Ply        int
	Turn       chess.Color
	Played     []*chess.Move
}

// WalkFunc handles one position. Returning stop=true ends analysis of
// the current line: deeper positions in this line (and its sub-
// variations) are not yielded, while sibling lines branching off
// earlier are unaffected. A non-nil error aborts the whole walk.
type WalkFunc func(step Step) (stop bool, err error)

// Walk visits every position of the game in play order: the mainline
// continuation first at each branch point, then each variation,
// depth-first. Positions before firstMove are filtered out, not
// treated as termination. Walk itself performs no analysis and holds
// no state beyond the per-line stop flag it threads through the
// recursion.
func Walk(g *Game, firstMove int, fn WalkFunc) error {
	return walk(g.Root, firstMove, false, fn)
}

func walk(n *Node, firstMove int, stopped bool, fn WalkFunc) error {
	// Snapshot the continuations before the callback runs: callbacks
	// annotate the tree in place, and variations they append are
	// output, not input to keep walking.
	children := append([]*Node(nil), n.Children...)

	if !stopped && fullmoveNumber(n.pos) >= firstMove {
		stop, err := fn(Step{
			Node:       n,
			Position:   n.pos,
			MoveNumber: fullmoveNumber(n.pos),
			Ply:        n.Ply(),
			Turn:       n.pos.Turn(),
			Played:     n.PlayedMoves(),
		})
		if err != nil {
			return err
		}
		if stop {
			stopped = true
		}
	}

	for _, child := range children {
		if err := walk(child, firstMove, stopped, fn); err != nil {
			return err
		}
	}
	return nil
}
