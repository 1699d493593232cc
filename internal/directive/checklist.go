package directive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrChecklistIncomplete is returned when a required checklist answer is missing.
var ErrChecklistIncomplete = errors.New("checklist incomplete")

// ItemKind is the answer type of a checklist item.
type ItemKind string

const (
	KindBoolean ItemKind = "boolean"
	KindNumber  ItemKind = "number"
	KindText    ItemKind = "text"
)

// Checklist is a structured form the assistant asks the user to fill in.
type Checklist struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Items       []ChecklistItem `json:"items"`
}

// ChecklistItem is a single question of a checklist. The kind travels under
// the "type" key.
type ChecklistItem struct {
	ID       ItemID   `json:"id"`
	Label    string   `json:"label"`
	Kind     ItemKind `json:"type"`
	Unit     string   `json:"unit,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// ItemID is a checklist item identifier that may be a string or an integer
// on the wire. Its original form is kept so the schema round-trips.
type ItemID struct {
	value   string
	numeric bool
}

// StringID returns a string item id.
func StringID(s string) ItemID { return ItemID{value: s} }

// IntID returns an integer item id.
func IntID(n int64) ItemID { return ItemID{value: strconv.FormatInt(n, 10), numeric: true} }

// String returns the id as used for answer keys.
func (id ItemID) String() string { return id.value }

// UnmarshalJSON implements json.Unmarshaler.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("checklist item id must be a string or number: %w", err)
	}
	*id = ItemID{value: n.String(), numeric: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id ItemID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// kind normalizes unknown kinds to text.
func (it ChecklistItem) kind() ItemKind {
	switch it.Kind {
	case KindBoolean, KindNumber:
		return it.Kind
	default:
		return KindText
	}
}

// Defaults returns the initial answer set: false for booleans, 0 for numbers
// and "" for text.
func (c Checklist) Defaults() map[string]any {
	out := make(map[string]any, len(c.Items))
	for _, it := range c.Items {
		switch it.kind() {
		case KindBoolean:
			out[it.ID.String()] = false
		case KindNumber:
			out[it.ID.String()] = float64(0)
		default:
			out[it.ID.String()] = ""
		}
	}
	return out
}

// Validate checks that every required item has an acceptable answer. A
// required boolean must be true, a number must be non-negative and text must
// be non-blank.
func (c Checklist) Validate(answers map[string]any) error {
	var missing []string
	for _, it := range c.Items {
		if !it.Required {
			continue
		}
		if !answered(it.kind(), answers[it.ID.String()]) {
			missing = append(missing, it.Label)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrChecklistIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

func answered(kind ItemKind, v any) bool {
	switch kind {
	case KindBoolean:
		b, ok := v.(bool)
		return ok && b
	case KindNumber:
		switch n := v.(type) {
		case float64:
			return n >= 0
		case int:
			return n >= 0
		case int64:
			return n >= 0
		case json.Number:
			f, err := n.Float64()
			return err == nil && f >= 0
		}
		return false
	default:
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) != ""
	}
}
