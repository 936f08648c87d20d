// Package diagram renders analyzed positions as SVG board images with
// the suggestion arrows drawn in.
package diagram

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
)

// Arrow colors. The position's own moves draw dimmed so suggestions
// stay readable: blue for the move that reached the position, gray for
// the move the game continued with. Suggestions are green (rare book
// move) or red (novelty), lightened when the game itself played them.
const (
	ColorLastMove      = "#2020b060"
	ColorNextMove      = "#40404060"
	ColorUnpopular     = "#00ff00c0"
	ColorUnpopularMain = "#a0ffa0d0"
	ColorNovelty       = "#ff0000c0"
	ColorNoveltyMain   = "#ffa0a0d0"
)

const (
	boardSize  = 480
	squareSize = boardSize / 8

	lightSquare = "#ffce9e"
	darkSquare  = "#d18b47"
)

// Arrow is one colored move arrow on the board.
type Arrow struct {
	From  chess.Square
	To    chess.Square
	Color string
}

// ValidatePattern checks a diagram filename pattern: it must contain
// the "{}" placeholder and name an SVG file.
func ValidatePattern(pattern string) error {
	if !strings.Contains(pattern, "{}") {
		return eris.Errorf("diagram: pattern %q is missing the {} placeholder", pattern)
	}
	dot := strings.LastIndex(pattern, ".")
	if dot < 0 || !strings.EqualFold(pattern[dot+1:], "svg") {
		return eris.Errorf("diagram: pattern %q must name an .svg file", pattern)
	}
	return nil
}

// FileName expands the pattern placeholder with the move number and
// side to move, zero-padded to at least three characters.
func FileName(pattern string, moveNumber int, turn chess.Color) string {
	side := "w"
	if turn == chess.Black {
		side = "b"
	}
	stamp := fmt.Sprintf("%d%s", moveNumber, side)
	for len(stamp) < 3 {
		stamp = "0" + stamp
	}
	return strings.Replace(pattern, "{}", stamp, 1)
}

// WriteFile renders the position to the named SVG file.
func WriteFile(name string, pos *chess.Position, arrows []Arrow) error {
	f, err := os.Create(name)
	if err != nil {
		return eris.Wrapf(err, "diagram: create %s", name)
	}
	if err := Write(f, pos, arrows); err != nil {
		f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "diagram: close %s", name)
}

// Write renders the position as an SVG board, oriented with the side
// to move at the bottom, with arrows drawn in order.
func Write(w io.Writer, pos *chess.Position, arrows []Arrow) error {
	flipped := pos.Turn() == chess.Black

	var sb strings.Builder
	fmt.Fprintf(&sb,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		boardSize, boardSize, boardSize, boardSize)

	for sq := chess.A1; sq <= chess.H8; sq++ {
		x, y := squareOrigin(sq, flipped)
		color := lightSquare
		if (int(sq.File())+int(sq.Rank()))%2 == 0 {
			color = darkSquare
		}
		fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`+"\n",
			x, y, squareSize, squareSize, color)
	}

	board := pos.Board()
	for sq := chess.A1; sq <= chess.H8; sq++ {
		piece := board.Piece(sq)
		if piece == chess.NoPiece {
			continue
		}
		x, y := squareOrigin(sq, flipped)
		fmt.Fprintf(&sb,
			`<text x="%d" y="%d" font-size="%d" text-anchor="middle">%s</text>`+"\n",
			x+squareSize/2, y+squareSize*3/4, squareSize*4/5, piece.String())
	}

	for _, a := range arrows {
		drawArrow(&sb, a, flipped)
	}

	sb.WriteString("</svg>\n")
	_, err := io.WriteString(w, sb.String())
	return eris.Wrap(err, "diagram: write svg")
}

func squareOrigin(sq chess.Square, flipped bool) (int, int) {
	file := int(sq.File())
	rank := int(sq.Rank())
	if flipped {
		file = 7 - file
		rank = 7 - rank
	}
	return file * squareSize, (7 - rank) * squareSize
}

func squareCenter(sq chess.Square, flipped bool) (float64, float64) {
	x, y := squareOrigin(sq, flipped)
	return float64(x) + squareSize/2, float64(y) + squareSize/2
}

func drawArrow(sb *strings.Builder, a Arrow, flipped bool) {
	x1, y1 := squareCenter(a.From, flipped)
	x2, y2 := squareCenter(a.To, flipped)

	angle := math.Atan2(y2-y1, x2-x1)
	const headLen = float64(squareSize) * 0.45
	const headWidth = float64(squareSize) * 0.3

	// Shaft stops where the head begins.
	sx := x2 - headLen*math.Cos(angle)
	sy := y2 - headLen*math.Sin(angle)

	fmt.Fprintf(sb,
		`<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="%s" stroke-width="%d" stroke-linecap="round"/>`+"\n",
		x1, y1, sx, sy, a.Color, squareSize/6)
	fmt.Fprintf(sb,
		`<polygon points="%.1f,%.1f %.1f,%.1f %.1f,%.1f" fill="%s"/>`+"\n",
		x2, y2,
		sx-headWidth*math.Sin(angle), sy+headWidth*math.Cos(angle),
		sx+headWidth*math.Sin(angle), sy-headWidth*math.Cos(angle),
		a.Color)
}
