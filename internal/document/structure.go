// Package document defines the OriginalStructure skeleton: the ordered tree
// that mirrors a source document with every translatable leaf block replaced
// by a reference to its extracted segment. The skeleton plus the segments are
// sufficient to rebuild the final document.
package document

import (
	"errors"
	"fmt"
)

// NodeKind discriminates the three node types in a structure tree.
type NodeKind string

const (
	// KindText is a literal, non-translatable run of text.
	KindText NodeKind = "text"
	// KindElement is a markup element with a tag, attributes and children.
	KindElement NodeKind = "element"
	// KindSegmentRef points at a segment by its 1-based segment order.
	KindSegmentRef NodeKind = "segment"
)

// Attr is a single element attribute. Order is preserved from the source.
type Attr struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// Node is one node of the structure tree.
type Node struct {
	Kind NodeKind `json:"kind"`

	// KindText
	Text string `json:"text,omitempty"`

	// KindElement
	Tag      string  `json:"tag,omitempty"`
	Attrs    []Attr  `json:"attrs,omitempty"`
	Children []*Node `json:"children,omitempty"`

	// KindSegmentRef
	SegmentOrder int `json:"segment_order,omitempty"`
}

// Structure is the skeleton of one parsed document.
type Structure struct {
	Root *Node `json:"root"`
}

// NewText returns a literal text node.
func NewText(text string) *Node {
	return &Node{Kind: KindText, Text: text}
}

// NewElement returns an element node with the given children.
func NewElement(tag string, attrs []Attr, children ...*Node) *Node {
	return &Node{Kind: KindElement, Tag: tag, Attrs: attrs, Children: children}
}

// NewSegmentRef returns a reference to the segment with the given order.
func NewSegmentRef(order int) *Node {
	return &Node{Kind: KindSegmentRef, SegmentOrder: order}
}

// AppendChild appends a child to an element node.
func (n *Node) AppendChild(child *Node) {
	n.Children = append(n.Children, child)
}

// Walk visits every node in depth-first order. Returning an error stops the
// walk and propagates it to the caller.
func (s *Structure) Walk(fn func(*Node) error) error {
	if s == nil || s.Root == nil {
		return nil
	}
	return walk(s.Root, fn)
}

func walk(n *Node, fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// SegmentRefs returns the segment orders referenced by the tree, in document
// order.
func (s *Structure) SegmentRefs() []int {
	var orders []int
	_ = s.Walk(func(n *Node) error {
		if n.Kind == KindSegmentRef {
			orders = append(orders, n.SegmentOrder)
		}
		return nil
	})
	return orders
}

// ErrEmptyStructure is returned by Validate for a structure with no root.
var ErrEmptyStructure = errors.New("structure has no root node")

// Validate checks the structural invariants: a root exists, and no segment
// order is referenced twice.
func (s *Structure) Validate() error {
	if s == nil || s.Root == nil {
		return ErrEmptyStructure
	}
	seen := make(map[int]bool)
	return s.Walk(func(n *Node) error {
		if n.Kind != KindSegmentRef {
			return nil
		}
		if seen[n.SegmentOrder] {
			return fmt.Errorf("segment order %d referenced twice", n.SegmentOrder)
		}
		seen[n.SegmentOrder] = true
		return nil
	})
}
