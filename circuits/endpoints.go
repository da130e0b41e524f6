package circuits

import (
	"fmt"
)

// EndpointTable resolves the TEE WebSocket URL for a circuit. Overrides
// route individual circuit names to another deployed backend version.
type EndpointTable struct {
	URLs      map[CircuitType]string
	Overrides map[string]string
}

// URL returns the WebSocket URL serving circuitName
func (t *EndpointTable) URL(ct CircuitType, circuitName string) (string, error) {
	if t == nil {
		return "", fmt.Errorf("no endpoint table configured")
	}
	if u, ok := t.Overrides[circuitName]; ok && u != "" {
		return u, nil
	}
	u, ok := t.URLs[ct]
	if !ok || u == "" {
		return "", fmt.Errorf("no TEE endpoint for %s circuits", ct)
	}
	return u, nil
}
