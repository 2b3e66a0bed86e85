package evaluate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Key is the cache key of a request: the hex SHA-256 of the operation, the
// JSON-encoded graph and the options. Map keys encode sorted, so equal
// graphs hash equally.
func Key(req Request, opts Options) (string, error) {
	data, err := json.Marshal(struct {
		Operation string `json:"op"`
		Graph     any    `json:"graph"`
		TimeoutMs int64  `json:"timeoutMs"`
		Strict    bool   `json:"strict"`
	}{
		Operation: req.Operation,
		Graph:     req.Graph,
		TimeoutMs: opts.Timeout.Milliseconds(),
		Strict:    opts.StrictTimeout,
	})
	if err != nil {
		return "", eris.Wrapf(err, "evaluate: encode %s request", req.Operation)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
