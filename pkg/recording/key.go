package recording

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Key identifies a fixture: the hash of the canonical JSON of the node id,
// node type and resolved input. encoding/json sorts map keys, which makes the
// encoding canonical for normalized values.
func Key(nodeID, nodeType string, input any) (string, error) {
	normalized, err := domain.Normalize(input)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(struct {
		Node  string `json:"node"`
		Type  string `json:"type"`
		Input any    `json:"input"`
	}{nodeID, nodeType, normalized})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
