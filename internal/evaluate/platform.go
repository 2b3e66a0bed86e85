package evaluate

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aoi-engine/pkg/platform"
)

// PlatformExecutor evaluates request graphs with the remote platform.
type PlatformExecutor struct {
	client platform.Client
}

// NewPlatformExecutor wraps a platform client.
func NewPlatformExecutor(client platform.Client) *PlatformExecutor {
	return &PlatformExecutor{client: client}
}

// Execute implements Executor. Graph may be a *platform.Node or any value
// whose JSON encoding is a graph node.
func (p *PlatformExecutor) Execute(ctx context.Context, req Request) (any, error) {
	node, err := toNode(req.Graph)
	if err != nil {
		return nil, eris.Wrapf(err, "evaluate: %s graph", req.Operation)
	}
	raw, err := p.client.Compute(ctx, node)
	if err != nil {
		return nil, eris.Wrapf(err, "evaluate: %s", req.Operation)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, eris.Wrapf(err, "evaluate: decode %s result", req.Operation)
	}
	return v, nil
}

func toNode(graph any) (*platform.Node, error) {
	switch g := graph.(type) {
	case *platform.Node:
		if g == nil {
			return nil, eris.New("nil graph")
		}
		return g, nil
	case json.RawMessage:
		return platform.ParseNode(g)
	case []byte:
		return platform.ParseNode(g)
	case nil:
		return nil, eris.New("nil graph")
	default:
		data, err := json.Marshal(g)
		if err != nil {
			return nil, eris.Wrap(err, "encode graph")
		}
		return platform.ParseNode(data)
	}
}
