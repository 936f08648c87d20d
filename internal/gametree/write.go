package gametree

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
)

const pgnLineWidth = 80

// Write serializes the game as PGN: header tags, blank line, movetext
// with comments, NAGs and variations, terminated by the result token.
func Write(w io.Writer, g *Game) error {
	lw := &lineWriter{w: w}

	g.SetTag("Result", g.Result)
	for _, t := range g.Tags {
		if _, err := fmt.Fprintf(w, "[%s \"%s\"]\n", t.Key, t.Value); err != nil {
			return eris.Wrap(err, "gametree: write tag")
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return eris.Wrap(err, "gametree: write header separator")
	}

	forceNumber := false
	if g.Root.Comment != "" {
		lw.comment(g.Root.Comment)
		forceNumber = true
	}
	lw.subtree(g.Root, forceNumber)
	lw.token(g.Result)

	if lw.err == nil && lw.col > 0 {
		_, lw.err = io.WriteString(w, "\n")
	}
	return eris.Wrap(lw.err, "gametree: write movetext")
}

// String renders the game as PGN text.
func (g *Game) String() string {
	var sb strings.Builder
	_ = Write(&sb, g)
	return sb.String()
}

type lineWriter struct {
	w   io.Writer
	col int
	err error
}

func (lw *lineWriter) token(s string) {
	if lw.err != nil || s == "" {
		return
	}
	sep := ""
	if lw.col > 0 {
		if lw.col+1+len(s) > pgnLineWidth {
			sep = "\n"
			lw.col = 0
		} else {
			sep = " "
		}
	}
	if _, err := io.WriteString(lw.w, sep+s); err != nil {
		lw.err = err
		return
	}
	lw.col += len(sep) + len(s)
	if sep == "\n" {
		lw.col = len(s)
	}
}

// comment emits a brace comment word by word so long annotations wrap.
func (lw *lineWriter) comment(text string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return
	}
	words[0] = "{" + words[0]
	words[len(words)-1] += "}"
	for _, w := range words {
		lw.token(w)
	}
}

// subtree emits the movetext below n: mainline move, its glyphs and
// comment, variations in parentheses, then the rest of the line.
func (lw *lineWriter) subtree(n *Node, forceNumber bool) {
	for len(n.Children) > 0 {
		main := n.Children[0]
		lw.move(n, main, forceNumber)
		forceNumber = false

		if main.Comment != "" {
			lw.comment(main.Comment)
			forceNumber = true
		}

		for _, alt := range n.Children[1:] {
			lw.token("(")
			lw.move(n, alt, true)
			if alt.Comment != "" {
				lw.comment(alt.Comment)
			}
			lw.subtree(alt, alt.Comment != "")
			lw.token(")")
			forceNumber = true
		}

		n = main
	}
}

func (lw *lineWriter) move(parent, child *Node, forceNumber bool) {
	num := fullmoveNumber(parent.pos)
	if parent.pos.Turn() == chess.White {
		lw.token(fmt.Sprintf("%d.", num))
	} else if forceNumber {
		lw.token(fmt.Sprintf("%d...", num))
	}
	lw.token(child.SAN)
	for _, nag := range child.NAGs {
		lw.token("$" + strconv.Itoa(nag))
	}
}
