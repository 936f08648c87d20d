package gametree

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	tagRe              = regexp.MustCompile(`^\[(\w+)\s+"(.*)"\]\s*$`)
	moveNumberPrefixRe = regexp.MustCompile(`^\d*\.*`)
)

// suffixNAGs maps traditional annotation suffixes to their numeric
// glyphs.
var suffixNAGs = map[string]int{
	"!":  1,
	"?":  2,
	"!!": 3,
	"??": 4,
	"!?": 5,
	"?!": 6,
}

// ParseResult is the outcome of parsing one game of a PGN stream.
// Malformed games carry an error instead of aborting the batch.
type ParseResult struct {
	Ordinal int
	Game    *Game
	Err     error
}

// ParseAll splits a PGN stream into games and parses each one
// independently.
func ParseAll(r io.Reader) ([]ParseResult, error) {
	chunks, err := splitGames(r)
	if err != nil {
		return nil, err
	}

	results := make([]ParseResult, 0, len(chunks))
	for i, chunk := range chunks {
		g, err := ParseGame(chunk)
		results = append(results, ParseResult{Ordinal: i + 1, Game: g, Err: err})
	}
	return results, nil
}

// splitGames cuts a PGN stream into per-game chunks. A new game starts
// at a tag line once movetext has been seen.
func splitGames(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var chunks []string
	var cur strings.Builder
	inMovetext := false

	flush := func() {
		if strings.TrimSpace(cur.String()) != "" {
			chunks = append(chunks, cur.String())
		}
		cur.Reset()
		inMovetext = false
	}

	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "[") && tagRe.MatchString(trimmed) {
			if inMovetext {
				flush()
			}
		} else if trimmed != "" {
			inMovetext = true
		}

		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "gametree: read pgn")
	}
	flush()

	return chunks, nil
}

// ParseGame parses one PGN game (headers plus movetext) into a tree.
func ParseGame(text string) (*Game, error) {
	tags, movetext := splitHeaders(text)

	var g *Game
	if fen := tagValue(tags, "FEN"); fen != "" {
		fg, err := NewGameFromFEN(fen)
		if err != nil {
			return nil, err
		}
		g = fg
	} else {
		g = NewGame()
	}
	g.Tags = tags
	if res := tagValue(tags, "Result"); res != "" {
		g.Result = res
	}

	if err := parseMovetext(g, movetext); err != nil {
		return nil, err
	}
	return g, nil
}

func splitHeaders(text string) ([]Tag, string) {
	var tags []Tag
	var movetext strings.Builder

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := tagRe.FindStringSubmatch(trimmed); m != nil {
			tags = append(tags, Tag{Key: m[1], Value: m[2]})
			continue
		}
		movetext.WriteString(line)
		movetext.WriteByte('\n')
	}
	return tags, movetext.String()
}

func tagValue(tags []Tag, key string) string {
	for _, t := range tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func parseMovetext(g *Game, movetext string) error {
	cur := g.Root
	var stack []*Node

	tok := newTokenizer(movetext)
	for {
		t, ok := tok.next()
		if !ok {
			break
		}

		switch t.kind {
		case tokComment:
			if cur.Comment == "" {
				cur.Comment = t.text
			} else {
				cur.Comment += " " + t.text
			}

		case tokNAG:
			n, err := strconv.Atoi(strings.TrimPrefix(t.text, "$"))
			if err != nil {
				return eris.Errorf("gametree: bad NAG %q", t.text)
			}
			cur.AddNAG(n)

		case tokOpenVariation:
			if cur.Parent == nil {
				return eris.New("gametree: variation before any move")
			}
			stack = append(stack, cur)
			cur = cur.Parent

		case tokCloseVariation:
			if len(stack) == 0 {
				return eris.New("gametree: unbalanced variation close")
			}
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]

		case tokResult:
			g.Result = t.text

		case tokWord:
			word := t.text
			// Zero-style castling from older sources.
			if strings.HasPrefix(word, "0-0") {
				word = strings.Replace(word, "0-0-0", "O-O-O", 1)
				word = strings.Replace(word, "0-0", "O-O", 1)
			} else {
				// Move numbers may be glued to the move ("12.Nf3").
				word = moveNumberPrefixRe.ReplaceAllString(word, "")
			}
			if word == "" {
				continue
			}
			san, nag := stripSuffix(word)
			child, err := cur.AddMove(san)
			if err != nil {
				return eris.Wrapf(err, "gametree: at ply %d", cur.Ply()+1)
			}
			if nag != 0 {
				child.AddNAG(nag)
			}
			cur = child
		}
	}

	if len(stack) != 0 {
		return eris.New("gametree: unclosed variation")
	}
	return nil
}

// stripSuffix separates a traditional annotation suffix ("!?", "!",
// ...) from a SAN token and returns the equivalent NAG.
func stripSuffix(word string) (string, int) {
	for _, suffix := range []string{"!!", "??", "!?", "?!", "!", "?"} {
		if strings.HasSuffix(word, suffix) && len(word) > len(suffix) {
			return strings.TrimSuffix(word, suffix), suffixNAGs[suffix]
		}
	}
	return word, 0
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokComment
	tokNAG
	tokOpenVariation
	tokCloseVariation
	tokResult
)

type token struct {
	kind tokenKind
	text string
}

type tokenizer struct {
	input []rune
	pos   int
}

func newTokenizer(s string) *tokenizer {
	return &tokenizer{input: []rune(s)}
}

func (t *tokenizer) next() (token, bool) {
	for t.pos < len(t.input) {
		c := t.input[t.pos]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			t.pos++

		case c == '{':
			t.pos++
			start := t.pos
			for t.pos < len(t.input) && t.input[t.pos] != '}' {
				t.pos++
			}
			text := strings.TrimSpace(string(t.input[start:t.pos]))
			if t.pos < len(t.input) {
				t.pos++ // consume '}'
			}
			return token{kind: tokComment, text: text}, true

		case c == ';':
			for t.pos < len(t.input) && t.input[t.pos] != '\n' {
				t.pos++
			}

		case c == '(':
			t.pos++
			return token{kind: tokOpenVariation}, true

		case c == ')':
			t.pos++
			return token{kind: tokCloseVariation}, true

		case c == '$':
			start := t.pos
			t.pos++
			for t.pos < len(t.input) && t.input[t.pos] >= '0' && t.input[t.pos] <= '9' {
				t.pos++
			}
			return token{kind: tokNAG, text: string(t.input[start:t.pos])}, true

		case c == '*':
			t.pos++
			return token{kind: tokResult, text: "*"}, true

		default:
			start := t.pos
			for t.pos < len(t.input) && !isTokenBreak(t.input[t.pos]) {
				t.pos++
			}
			word := string(t.input[start:t.pos])
			if word == "1-0" || word == "0-1" || word == "1/2-1/2" {
				return token{kind: tokResult, text: word}, true
			}
			return token{kind: tokWord, text: word}, true
		}
	}
	return token{}, false
}

func isTokenBreak(c rune) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '{', '}', ';':
		return true
	}
	return false
}
