package dsl

import (
	"fmt"
	"regexp"
	"strings"
)

type Op string

const (
	OpRef Op = "ref"
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
)

// Node is one element of a parsed composition string.
type Node struct {
	Op       Op
	Name     string
	Children []Node
}

func (n Node) String() string {
	switch n.Op {
	case OpRef:
		return n.Name
	case OpNot:
		return "NOT " + n.Children[0].String()
	default:
		parts := make([]string, len(n.Children))
		for i, child := range n.Children {
			parts[i] = child.String()
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(n.Op))+" ") + ")"
	}
}

// Names returns every search name referenced by the tree, in first-seen order.
func (n Node) Names() []string {
	seen := map[string]bool{}
	var names []string
	var walk func(Node)
	walk = func(node Node) {
		if node.Op == OpRef {
			if !seen[node.Name] {
				seen[node.Name] = true
				names = append(names, node.Name)
			}
			return
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(n)
	return names
}

var tokenRegex = regexp.MustCompile(`\s*(\(|\)|[a-zA-Z0-9_][a-zA-Z0-9_.\-]*)`)

// ParseComposition parses strings such as "pregnant AND NOT (hiv OR tb)".
// NOT binds tighter than AND, which binds tighter than OR.
func ParseComposition(input string) (Node, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return Node{}, err
	}
	if len(tokens) == 0 {
		return Node{}, fmt.Errorf("composition is empty")
	}
	p := &compositionParser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return Node{}, err
	}
	if p.pos < len(p.tokens) {
		return Node{}, fmt.Errorf("unexpected %q at token %d", p.tokens[p.pos], p.pos+1)
	}
	return node, nil
}

func tokenize(input string) ([]string, error) {
	var tokens []string
	rest := input
	for strings.TrimSpace(rest) != "" {
		loc := tokenRegex.FindStringSubmatchIndex(rest)
		if loc == nil || loc[0] != 0 {
			return nil, fmt.Errorf("unexpected %q", strings.TrimSpace(rest))
		}
		tokens = append(tokens, rest[loc[2]:loc[3]])
		rest = rest[loc[1]:]
	}
	return tokens, nil
}

type compositionParser struct {
	tokens []string
	pos    int
}

func (p *compositionParser) peekKeyword(keyword string) bool {
	return p.pos < len(p.tokens) && strings.EqualFold(p.tokens[p.pos], keyword)
}

func (p *compositionParser) parseOr() (Node, error) {
	return p.parseBinary(OpOr, "or", p.parseAnd)
}

func (p *compositionParser) parseAnd() (Node, error) {
	return p.parseBinary(OpAnd, "and", p.parseUnary)
}

func (p *compositionParser) parseBinary(op Op, keyword string, next func() (Node, error)) (Node, error) {
	left, err := next()
	if err != nil {
		return Node{}, err
	}
	children := []Node{left}
	for p.peekKeyword(keyword) {
		p.pos++
		right, err := next()
		if err != nil {
			return Node{}, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return Node{Op: op, Children: children}, nil
}

func (p *compositionParser) parseUnary() (Node, error) {
	if p.peekKeyword("not") {
		p.pos++
		child, err := p.parseUnary()
		if err != nil {
			return Node{}, err
		}
		return Node{Op: OpNot, Children: []Node{child}}, nil
	}
	return p.parsePrimary()
}

func (p *compositionParser) parsePrimary() (Node, error) {
	if p.pos >= len(p.tokens) {
		return Node{}, fmt.Errorf("unexpected end of composition")
	}
	token := p.tokens[p.pos]
	p.pos++
	switch {
	case token == "(":
		node, err := p.parseOr()
		if err != nil {
			return Node{}, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos] != ")" {
			return Node{}, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return node, nil
	case token == ")":
		return Node{}, fmt.Errorf("unexpected %q at token %d", token, p.pos)
	case strings.EqualFold(token, "and"), strings.EqualFold(token, "or"), strings.EqualFold(token, "not"):
		return Node{}, fmt.Errorf("operator %q where a search name was expected", token)
	default:
		return Node{Op: OpRef, Name: token}, nil
	}
}
