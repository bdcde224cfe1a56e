// Package edn reads the subset of EDN used by the query and transaction
// languages: nil, booleans, integers, floats, strings, symbols, keywords,
// lists, vectors, maps and tagged values.
package edn

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType represents the type of EDN node
type NodeType int

const (
	NodeNil NodeType = iota
	NodeBool
	NodeInt
	NodeFloat
	NodeString
	NodeSymbol
	NodeKeyword
	NodeList
	NodeVector
	NodeMap
	NodeTagged
)

func (t NodeType) String() string {
	switch t {
	case NodeNil:
		return "nil"
	case NodeBool:
		return "boolean"
	case NodeInt:
		return "integer"
	case NodeFloat:
		return "float"
	case NodeString:
		return "string"
	case NodeSymbol:
		return "symbol"
	case NodeKeyword:
		return "keyword"
	case NodeList:
		return "list"
	case NodeVector:
		return "vector"
	case NodeMap:
		return "map"
	case NodeTagged:
		return "tagged value"
	default:
		panic(fmt.Sprintf("unknown node type: %d", int(t)))
	}
}

// Node represents an EDN value
type Node struct {
	Type   NodeType
	Line   int
	Col    int
	Value  string // For atoms; strings are unescaped
	Nodes  []Node // For collections; maps alternate key, value
	Tag    string // For tagged values, without the #
	Tagged *Node  // For tagged values
}

// String renders the node back as EDN
func (n Node) String() string {
	switch n.Type {
	case NodeNil:
		return "nil"
	case NodeString:
		return strconv.Quote(n.Value)
	case NodeList:
		return "(" + joinNodes(n.Nodes) + ")"
	case NodeVector:
		return "[" + joinNodes(n.Nodes) + "]"
	case NodeMap:
		return "{" + joinNodes(n.Nodes) + "}"
	case NodeTagged:
		return "#" + n.Tag + " " + n.Tagged.String()
	default:
		return n.Value
	}
}

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, node := range nodes {
		parts[i] = node.String()
	}
	return strings.Join(parts, " ")
}

// Pos returns the node's position as line:col
func (n Node) Pos() string {
	return fmt.Sprintf("%d:%d", n.Line, n.Col)
}

func (n Node) expect(t NodeType) error {
	if n.Type != t {
		return fmt.Errorf("expected %s, got %s %s at %s", t, n.Type, n, n.Pos())
	}
	return nil
}

// AsString returns the value of a string node
func (n Node) AsString() (string, error) {
	if err := n.expect(NodeString); err != nil {
		return "", err
	}
	return n.Value, nil
}

// AsInt returns the value of an int node
func (n Node) AsInt() (int64, error) {
	if err := n.expect(NodeInt); err != nil {
		return 0, err
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// AsSymbol returns the name of a symbol node
func (n Node) AsSymbol() (string, error) {
	if err := n.expect(NodeSymbol); err != nil {
		return "", err
	}
	return n.Value, nil
}

// AsKeyword returns a keyword, colon included
func (n Node) AsKeyword() (string, error) {
	if err := n.expect(NodeKeyword); err != nil {
		return "", err
	}
	return n.Value, nil
}

// IsNil returns true if the node is nil
func (n Node) IsNil() bool {
	return n.Type == NodeNil
}

// IsCollection returns true if the node is a collection type
func (n Node) IsCollection() bool {
	return n.Type == NodeList || n.Type == NodeVector || n.Type == NodeMap
}
