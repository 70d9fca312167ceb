package memstore

import (
	"encoding/json"
	"fmt"
)

// RememberFactArgs is the input for the remember_fact tool exposed to the
// runtime's prompt-composition tool list.
type RememberFactArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RememberFactToolName is the name agents invoke this tool by.
const RememberFactToolName = "remember_fact"

// RememberFactToolDefinition returns the JSON-schema tool definition, the
// shape the runtime's tool-call surface expects.
func RememberFactToolDefinition() map[string]interface{} {
	return map[string]interface{}{
		"name":        RememberFactToolName,
		"description": "Store an important fact or decision for future reference across sessions. Use for durable facts about the user, project, or preferences, not for trivial or temporary information.",
		"parameters": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"key":   map[string]interface{}{"type": "string", "description": "short descriptive key"},
				"value": map[string]interface{}{"type": "string", "description": "the fact to remember"},
			},
			"required": []string{"key", "value"},
		},
	}
}

// HandleRememberFact processes a remember_fact tool call by writing it as a
// long-term note and publishing a bus event for dashboard notification.
func (s *Store) HandleRememberFact(input json.RawMessage) (string, error) {
	var args RememberFactArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("memstore: invalid remember_fact arguments: %w", err)
	}
	if args.Key == "" || args.Value == "" {
		return "", fmt.Errorf("memstore: key and value are required")
	}
	if _, err := s.AddNote(args.Key, args.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered: %s = %s", args.Key, args.Value), nil
}
