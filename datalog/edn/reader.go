package edn

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
)

var (
	intPattern   = regexp.MustCompile(`^[+-]?\d+$`)
	floatPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?([eE][+-]?\d+)?$`)
)

// symbolPunct are the non-alphanumeric characters allowed in symbols
const symbolPunct = ".*+!-_?$%&=<>/"

// SyntaxError reports malformed input
type SyntaxError struct {
	Line, Col int
	Msg       string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Reader reads successive forms from a string
type Reader struct {
	input string
	pos   int
	line  int
	col   int
}

// NewReader creates a reader over input
func NewReader(input string) *Reader {
	return &Reader{input: input, line: 1, col: 1}
}

// Parse reads exactly one form from input
func Parse(input string) (*Node, error) {
	r := NewReader(input)
	node, err := r.Next()
	if err == io.EOF {
		return nil, &SyntaxError{Line: r.line, Col: r.col, Msg: "empty input"}
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Next(); err != io.EOF {
		if err != nil {
			return nil, err
		}
		return nil, r.errorf("unexpected input after %s", node)
	}
	return node, nil
}

// ParseAll reads every form in input
func ParseAll(input string) ([]Node, error) {
	r := NewReader(input)
	var nodes []Node
	for {
		node, err := r.Next()
		if err == io.EOF {
			return nodes, nil
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
}

// Next reads the next form. It returns io.EOF when the input is exhausted.
func (r *Reader) Next() (*Node, error) {
	for {
		r.skipSpace()
		if r.pos >= len(r.input) {
			return nil, io.EOF
		}
		node, err := r.read()
		if err != nil {
			return nil, err
		}
		if node != nil {
			return node, nil
		}
	}
}

// read reads one form. A discarded form (#_) yields a nil node.
func (r *Reader) read() (*Node, error) {
	line, col := r.line, r.col
	switch ch := r.peek(); ch {
	case '"':
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &Node{Type: NodeString, Value: s, Line: line, Col: col}, nil
	case '(':
		return r.readCollection(NodeList, ')')
	case '[':
		return r.readCollection(NodeVector, ']')
	case '{':
		node, err := r.readCollection(NodeMap, '}')
		if err != nil {
			return nil, err
		}
		if len(node.Nodes)%2 != 0 {
			return nil, &SyntaxError{Line: line, Col: col, Msg: "map literal must contain an even number of forms"}
		}
		return node, nil
	case ')', ']', '}':
		return nil, r.errorf("unexpected %q", ch)
	case '#':
		return r.readDispatch()
	default:
		return r.readAtom()
	}
}

func (r *Reader) readCollection(t NodeType, closer byte) (*Node, error) {
	node := &Node{Type: t, Line: r.line, Col: r.col}
	r.advance()
	for {
		r.skipSpace()
		if r.pos >= len(r.input) {
			return nil, &SyntaxError{Line: node.Line, Col: node.Col, Msg: fmt.Sprintf("unterminated %s", t)}
		}
		if r.peek() == closer {
			r.advance()
			return node, nil
		}
		child, err := r.read()
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Nodes = append(node.Nodes, *child)
		}
	}
}

// readDispatch handles #_ discards and #tag forms
func (r *Reader) readDispatch() (*Node, error) {
	line, col := r.line, r.col
	r.advance()

	if r.peek() == '_' {
		r.advance()
		r.skipSpace()
		if r.pos >= len(r.input) {
			return nil, r.errorf("missing form after #_")
		}
		_, err := r.read()
		return nil, err
	}

	tag := r.readToken()
	if tag == "" {
		return nil, &SyntaxError{Line: line, Col: col, Msg: "missing tag after #"}
	}
	if err := validateSymbol(tag); err != nil {
		return nil, &SyntaxError{Line: line, Col: col, Msg: err.Error()}
	}
	r.skipSpace()
	if r.pos >= len(r.input) {
		return nil, r.errorf("missing form after #%s", tag)
	}
	tagged, err := r.read()
	if err != nil {
		return nil, err
	}
	if tagged == nil {
		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("discarded form after #%s", tag)}
	}
	return &Node{Type: NodeTagged, Tag: tag, Tagged: tagged, Line: line, Col: col}, nil
}

func (r *Reader) readAtom() (*Node, error) {
	line, col := r.line, r.col
	value := r.readToken()
	if value == "" {
		return nil, r.errorf("unexpected character %q", r.peek())
	}

	node := &Node{Value: value, Line: line, Col: col}
	switch {
	case value == "nil":
		node.Type = NodeNil
	case value == "true" || value == "false":
		node.Type = NodeBool
	case strings.HasPrefix(value, ":"):
		if len(value) == 1 {
			return nil, &SyntaxError{Line: line, Col: col, Msg: "empty keyword"}
		}
		if err := validateSymbol(value[1:]); err != nil {
			return nil, &SyntaxError{Line: line, Col: col, Msg: err.Error()}
		}
		node.Type = NodeKeyword
	case intPattern.MatchString(value):
		node.Type = NodeInt
	case floatPattern.MatchString(value):
		node.Type = NodeFloat
	default:
		if err := validateSymbol(value); err != nil {
			return nil, &SyntaxError{Line: line, Col: col, Msg: err.Error()}
		}
		node.Type = NodeSymbol
	}
	return node, nil
}

func (r *Reader) readString() (string, error) {
	line, col := r.line, r.col
	var b strings.Builder
	r.advance()
	for r.pos < len(r.input) {
		ch := r.peek()
		r.advance()
		switch ch {
		case '"':
			return b.String(), nil
		case '\\':
			if r.pos >= len(r.input) {
				return "", &SyntaxError{Line: line, Col: col, Msg: "unterminated string"}
			}
			esc := r.peek()
			switch esc {
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'n':
				b.WriteByte('\n')
			case '\\', '"':
				b.WriteByte(esc)
			default:
				return "", r.errorf("invalid escape sequence \\%c", esc)
			}
			r.advance()
		default:
			b.WriteByte(ch)
		}
	}
	return "", &SyntaxError{Line: line, Col: col, Msg: "unterminated string"}
}

// readToken consumes characters up to the next delimiter
func (r *Reader) readToken() string {
	start := r.pos
	for r.pos < len(r.input) {
		ch := r.peek()
		if isDelimiter(ch) || isSpace(ch) {
			break
		}
		r.advance()
	}
	return r.input[start:r.pos]
}

func (r *Reader) skipSpace() {
	for r.pos < len(r.input) {
		ch := r.peek()
		switch {
		case isSpace(ch):
			r.advance()
		case ch == ';':
			for r.pos < len(r.input) && r.peek() != '\n' {
				r.advance()
			}
		default:
			return
		}
	}
}

func (r *Reader) peek() byte {
	if r.pos >= len(r.input) {
		return 0
	}
	return r.input[r.pos]
}

func (r *Reader) advance() {
	if r.pos >= len(r.input) {
		return
	}
	if r.input[r.pos] == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	r.pos++
}

func (r *Reader) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Line: r.line, Col: r.col, Msg: fmt.Sprintf(format, args...)}
}

func isSpace(ch byte) bool {
	return ch == ',' || unicode.IsSpace(rune(ch))
}

func isDelimiter(ch byte) bool {
	return strings.IndexByte(`()[]{}";`, ch) >= 0
}

func validateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("empty symbol")
	}
	if unicode.IsDigit(rune(s[0])) {
		return fmt.Errorf("symbol cannot start with digit: %s", s)
	}
	for _, ch := range s {
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' ||
			strings.ContainsRune(symbolPunct, ch) || ch == '#' || ch == ':' {
			continue
		}
		return fmt.Errorf("invalid character %q in symbol: %s", ch, s)
	}
	return nil
}
