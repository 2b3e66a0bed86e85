// Package platform is a client for the remote geospatial evaluation
// platform's value:compute endpoint, plus builders for the expression
// graphs it evaluates.
package platform

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// Node is one value in an expression graph: a function invocation, a
// constant or a list. Nodes are immutable once built and safe to share.
type Node struct {
	Function string
	Args     map[string]*Node
	Constant any
	List     []*Node
}

// Invoke builds a function invocation node.
func Invoke(function string, args map[string]*Node) *Node {
	return &Node{Function: function, Args: args}
}

// Constant builds a constant node. v must be JSON-encodable.
func Constant(v any) *Node {
	return &Node{Constant: v}
}

// List builds an array node.
func List(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{List: items}
}

type wireInvocation struct {
	FunctionName string           `json:"functionName"`
	Arguments    map[string]*Node `json:"arguments,omitempty"`
}

type wireArray struct {
	Values []*Node `json:"values"`
}

// MarshalJSON encodes the node in the platform's expression wire format.
// Argument maps are emitted in key order so equal graphs encode identically.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch {
	case n == nil:
		return []byte(`{"constantValue":null}`), nil
	case n.Function != "":
		return json.Marshal(map[string]wireInvocation{
			"functionInvocationValue": {FunctionName: n.Function, Arguments: n.Args},
		})
	case n.List != nil:
		return json.Marshal(map[string]wireArray{"arrayValue": {Values: n.List}})
	default:
		return json.Marshal(map[string]any{"constantValue": n.Constant})
	}
}

// Expression wraps a root node as a complete request expression.
type Expression struct {
	Result string           `json:"result"`
	Values map[string]*Node `json:"values"`
}

// NewExpression makes root the single result value.
func NewExpression(root *Node) Expression {
	return Expression{Result: "0", Values: map[string]*Node{"0": root}}
}

// Functions reports every function name used in the graph, sorted. Useful
// for logging and for rejecting graphs that call unsupported functions.
func (n *Node) Functions() []string {
	seen := map[string]bool{}
	var walk func(*Node)
	walk = func(m *Node) {
		if m == nil {
			return
		}
		if m.Function != "" {
			seen[m.Function] = true
		}
		for _, a := range m.Args {
			walk(a)
		}
		for _, v := range m.List {
			walk(v)
		}
	}
	walk(n)

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ParseNode decodes a graph previously encoded with MarshalJSON.
func ParseNode(data []byte) (*Node, error) {
	var raw struct {
		Invocation *struct {
			FunctionName string                     `json:"functionName"`
			Arguments    map[string]json.RawMessage `json:"arguments"`
		} `json:"functionInvocationValue"`
		Array *struct {
			Values []json.RawMessage `json:"values"`
		} `json:"arrayValue"`
		Constant json.RawMessage `json:"constantValue"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "platform: decode graph node")
	}

	switch {
	case raw.Invocation != nil:
		n := &Node{Function: raw.Invocation.FunctionName}
		if len(raw.Invocation.Arguments) > 0 {
			n.Args = make(map[string]*Node, len(raw.Invocation.Arguments))
			for k, v := range raw.Invocation.Arguments {
				child, err := ParseNode(v)
				if err != nil {
					return nil, err
				}
				n.Args[k] = child
			}
		}
		return n, nil
	case raw.Array != nil:
		n := &Node{List: make([]*Node, 0, len(raw.Array.Values))}
		for _, v := range raw.Array.Values {
			child, err := ParseNode(v)
			if err != nil {
				return nil, err
			}
			n.List = append(n.List, child)
		}
		return n, nil
	case raw.Constant != nil:
		var v any
		if err := json.Unmarshal(raw.Constant, &v); err != nil {
			return nil, eris.Wrap(err, "platform: decode constant")
		}
		return Constant(v), nil
	default:
		return nil, eris.New("platform: graph node has no value")
	}
}
