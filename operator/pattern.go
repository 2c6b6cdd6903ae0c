package operator

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/npdm/block"
)

const (
	opCre = 'C'
	opDes = 'D'
)

// Node is a node of the binary coupling tree of a pattern.
// Leaves are elementary operators; an internal node couples its two children into an intermediate operator.
type Node struct {
	Op    byte
	Slot  int
	Left  *Node
	Right *Node
}

// IsLeaf reports whether n is an elementary operator.
func (n *Node) IsLeaf() bool { return n.Left == nil }

// Delta returns the change in particle number and spin projection produced by the subtree of n.
// These are the intermediate quantum numbers through which the pattern is coupled.
func (n *Node) Delta(orbitals []int) block.Quantum {
	if n.IsLeaf() {
		p := orbitals[n.Slot]
		switch n.Op {
		case opCre:
			return block.Quantum{N: 1, TwoSz: block.Spin(p)}
		default:
			return block.Quantum{N: -1, TwoSz: -block.Spin(p)}
		}
	}
	return n.Left.Delta(orbitals).Add(n.Right.Delta(orbitals))
}

func (n *Node) String() string {
	if n.IsLeaf() {
		return string(n.Op)
	}
	return fmt.Sprintf("(%s%s)", n.Left, n.Right)
}

// Pattern is a parsed coupling pattern such as "((CC)(DD))".
type Pattern struct {
	Root *Node
	// Leaves are the elementary operators in slot order.
	Leaves []byte
}

// ParsePattern parses a bracketed coupling pattern.
// Every pair of brackets couples exactly two terms, and a term is either C, D, or a bracketed pair.
func ParsePattern(s string) (*Pattern, error) {
	p := &Pattern{}
	rest, root, err := p.parse(s)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("%q", s))
	}
	if rest != "" {
		return nil, errors.Errorf("%q: trailing %q", s, rest)
	}
	if root.IsLeaf() {
		return nil, errors.Errorf("%q: single elementary operator", s)
	}
	p.Root = root
	return p, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(s string) *Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return p
}

func (p *Pattern) parse(s string) (string, *Node, error) {
	if s == "" {
		return "", nil, errors.Errorf("unexpected end")
	}
	switch s[0] {
	case opCre, opDes:
		n := &Node{Op: s[0], Slot: len(p.Leaves)}
		p.Leaves = append(p.Leaves, s[0])
		return s[1:], n, nil
	case '(':
		rest, left, err := p.parse(s[1:])
		if err != nil {
			return "", nil, errors.Wrap(err, "")
		}
		rest, right, err := p.parse(rest)
		if err != nil {
			return "", nil, errors.Wrap(err, "")
		}
		if !strings.HasPrefix(rest, ")") {
			return "", nil, errors.Errorf("expected ')' at %q", rest)
		}
		return rest[1:], &Node{Left: left, Right: right}, nil
	default:
		return "", nil, errors.Errorf("unexpected %q", s[0])
	}
}

func (p *Pattern) String() string { return p.Root.String() }
