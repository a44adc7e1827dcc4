package harness

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	requiredSlots = 4
	minScore      = 0
	maxScore      = 10
)

// ValidateScores checks the endGame payload: an array whose first four
// entries are JSON numbers in [0, 10]. Extra entries are ignored. Booleans,
// strings and null are not numbers.
func ValidateScores(raw json.RawMessage) ([]float64, error) {
	var items []json.RawMessage
	if len(raw) == 0 || raw[0] != '[' || json.Unmarshal(raw, &items) != nil {
		return nil, errors.New("endGame payload is not an array")
	}
	if len(items) < requiredSlots {
		return nil, fmt.Errorf("endGame payload too short: %d (expected %d)", len(items), requiredSlots)
	}

	scores := make([]float64, requiredSlots)
	for i := 0; i < requiredSlots; i++ {
		var v interface{}
		if err := json.Unmarshal(items[i], &v); err != nil {
			return nil, errors.New("first 4 endGame scores must be numeric")
		}
		f, ok := v.(float64)
		if !ok {
			return nil, errors.New("first 4 endGame scores must be numeric")
		}
		scores[i] = f
	}
	for _, s := range scores {
		if s < minScore || s > maxScore {
			return nil, errors.New("endGame scores must be within 0..10 (host-effective range)")
		}
	}
	return scores, nil
}
