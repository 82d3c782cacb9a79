// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package parse decodes the planner output of the database into a closed set
of plan node types, and classifies the constant expressions the planner
prints for relation-less queries.

The raw plan is decoded once, here. Nothing outside this package handles
untyped plan data.
*/
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Node is a node of a query plan. The set of implementations is closed:
// *ResultNode, *ScanNode and *CompositeNode.
type Node interface {
	// String returns the node's representation for debugging purposes.
	String() string
	node()
}

// ResultNode is a plan that computes its output without reading any
// relation, e.g. SELECT 1, 'a'.
type ResultNode struct {
	// Output holds the deparsed output expressions, e.g. ["1", "'a'::text"].
	Output []string
}

func (n *ResultNode) String() string {
	return "Result[" + strings.Join(n.Output, " ") + "]"
}

func (*ResultNode) node() {}

// ScanNode is a leaf plan node. Relation is empty for scans that are not
// backed by a relation, such as function or values scans.
type ScanNode struct {
	NodeType string
	Relation string
	Schema   string
	Alias    string
	Output   []string
}

func (n *ScanNode) String() string {
	var b bytes.Buffer
	b.WriteString(n.NodeType)
	b.WriteString("[")
	writeRelation(&b, n.Relation, n.Schema, n.Alias)
	b.WriteString(strings.Join(n.Output, " "))
	b.WriteString("]")
	return b.String()
}

func writeRelation(b *bytes.Buffer, relation, schema, alias string) {
	if relation == "" {
		return
	}
	if schema != "" {
		b.WriteString(schema + ".")
	}
	b.WriteString(relation)
	if alias != "" && alias != relation {
		b.WriteString(" AS " + alias)
	}
	b.WriteString(": ")
}

func (*ScanNode) node() {}

// CompositeNode is a plan node with children, e.g. a join or an aggregate.
// Some nodes with children read a relation themselves, such as a bitmap
// heap scan over its index scan or a scan with an init plan. Relation is
// empty for all others.
type CompositeNode struct {
	NodeType string
	Relation string
	Schema   string
	Alias    string
	Output   []string
	Children []Node
}

func (n *CompositeNode) String() string {
	var b bytes.Buffer
	b.WriteString(n.NodeType)
	b.WriteString("[")
	writeRelation(&b, n.Relation, n.Schema, n.Alias)
	b.WriteString(strings.Join(n.Output, " "))
	b.WriteString("]")
	for _, child := range n.Children {
		b.WriteString("[")
		b.WriteString(child.String())
		b.WriteString("]")
	}
	return b.String()
}

func (*CompositeNode) node() {}

// rawPlan mirrors the keys of a node in EXPLAIN (FORMAT JSON) output that
// are of interest. All others are ignored.
type rawPlan struct {
	NodeType string    `json:"Node Type"`
	Relation string    `json:"Relation Name"`
	Schema   string    `json:"Schema"`
	Alias    string    `json:"Alias"`
	Output   []string  `json:"Output"`
	Plans    []rawPlan `json:"Plans"`
}

type explainOutput []struct {
	Plan *rawPlan `json:"Plan"`
}

// Plan decodes the output of EXPLAIN (VERBOSE, FORMAT JSON) and returns the
// root plan node.
func Plan(data []byte) (node Node, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse plan: %s", err)
		}
	}()

	var out explainOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 || out[0].Plan == nil {
		return nil, fmt.Errorf("no plan found")
	}
	return convert(out[0].Plan)
}

func convert(p *rawPlan) (Node, error) {
	if p.NodeType == "" {
		return nil, fmt.Errorf("plan node without a node type")
	}
	switch {
	case len(p.Plans) > 0:
		children := make([]Node, 0, len(p.Plans))
		for i := range p.Plans {
			child, err := convert(&p.Plans[i])
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &CompositeNode{
			NodeType: p.NodeType,
			Relation: p.Relation,
			Schema:   p.Schema,
			Alias:    p.Alias,
			Output:   p.Output,
			Children: children,
		}, nil
	case p.NodeType == "Result":
		return &ResultNode{Output: p.Output}, nil
	default:
		return &ScanNode{
			NodeType: p.NodeType,
			Relation: p.Relation,
			Schema:   p.Schema,
			Alias:    p.Alias,
			Output:   p.Output,
		}, nil
	}
}

// Output returns the output column list of any node.
func Output(n Node) []string {
	switch n := n.(type) {
	case *ResultNode:
		return n.Output
	case *ScanNode:
		return n.Output
	case *CompositeNode:
		return n.Output
	}
	return nil
}

// Relations returns every relation read in the tree rooted at n, in
// depth-first order, a node before its children. A composite node that
// reads a relation is reported as a scan of that relation.
func Relations(n Node) []*ScanNode {
	var scans []*ScanNode
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *ScanNode:
			if n.Relation != "" {
				scans = append(scans, n)
			}
		case *CompositeNode:
			if n.Relation != "" {
				scans = append(scans, &ScanNode{
					NodeType: n.NodeType,
					Relation: n.Relation,
					Schema:   n.Schema,
					Alias:    n.Alias,
					Output:   n.Output,
				})
			}
			for _, child := range n.Children {
				walk(child)
			}
		}
	}
	walk(n)
	return scans
}
