package vacancy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// TermCount is one ranked term and the number of times it was seen.
type TermCount struct {
	Term  string
	Count int
}

// Frequencies is an ordered term distribution, most frequent first. It
// serializes to a JSON object / BSON document whose key order is the ranking.
type Frequencies []TermCount

// Map returns the distribution without its ordering.
func (f Frequencies) Map() map[string]int {
	out := make(map[string]int, len(f))
	for _, tc := range f {
		out[tc.Term] = tc.Count
	}
	return out
}

// Terms returns the ranked terms.
func (f Frequencies) Terms() []string {
	out := make([]string, len(f))
	for i, tc := range f {
		out[i] = tc.Term
	}
	return out
}

// MarshalJSON writes the terms as an object preserving rank order.
func (f Frequencies) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tc := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(tc.Term)
		if err != nil {
			return nil, fmt.Errorf("marshal term %q: %w", tc.Term, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", tc.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order of the input.
func (f *Frequencies) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode frequencies: %w", err)
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode frequencies: expected object, got %v", tok)
	}
	out := Frequencies{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode frequencies key: %w", err)
		}
		term, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode frequencies: unexpected key %v", keyTok)
		}
		var count int
		if err := dec.Decode(&count); err != nil {
			return fmt.Errorf("decode count for %q: %w", term, err)
		}
		out = append(out, TermCount{Term: term, Count: count})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode frequencies: %w", err)
	}
	*f = out
	return nil
}

// MarshalBSONValue encodes the terms as an ordered embedded document.
func (f Frequencies) MarshalBSONValue() (bsontype.Type, []byte, error) {
	doc := make(bson.D, 0, len(f))
	for _, tc := range f {
		doc = append(doc, bson.E{Key: tc.Term, Value: int64(tc.Count)})
	}
	return bson.MarshalValue(doc)
}

// UnmarshalBSONValue decodes an embedded document in stored order.
func (f *Frequencies) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null {
		*f = nil
		return nil
	}
	var doc bson.D
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&doc); err != nil {
		return fmt.Errorf("decode frequencies: %w", err)
	}
	out := make(Frequencies, 0, len(doc))
	for _, elem := range doc {
		count, err := asInt(elem.Value)
		if err != nil {
			return fmt.Errorf("decode count for %q: %w", elem.Key, err)
		}
		out = append(out, TermCount{Term: elem.Key, Count: count})
	}
	*f = out
	return nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
