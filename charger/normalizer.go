package charger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Leaf is one terminal key/value pair of a telemetry event, flattened to a path
type Leaf struct {
	Path  string
	Value any    // int64, float64 or string when Valid
	Raw   string // raw JSON text, for logging
	Valid bool
}

// Event is a decoded telemetry payload.
//
// The payload is walked to a fixed depth of three objects
// (object -> object -> object -> scalar); anything nested deeper is an invalid leaf.
type Event struct {
	Leaves []Leaf

	// Power is the mandatory Ac.Power reading
	Power float64
	// Phases is the number of L1/L2/L3 sections present under Ac (0-3)
	Phases int

	HasCurrent      bool
	HasChargingTime bool
}

// DecodeEvent parses a raw bus payload into an Event.
// Errors wrap ErrEmptyPayload, ErrInvalidJSON or ErrMissingPower.
func DecodeEvent(payload []byte) (*Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	top, err := decodeObject(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	ev := &Event{}

	acRaw, ok := top["Ac"]
	if !ok || !isObject(acRaw) {
		return nil, ErrMissingPower
	}
	ac, err := decodeObject(acRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: Ac: %v", ErrInvalidJSON, err)
	}
	powerRaw, ok := ac["Power"]
	if !ok {
		return nil, ErrMissingPower
	}
	power, _ := decodeScalar(powerRaw)
	f, ok := toFloat(power)
	if !ok {
		return nil, fmt.Errorf("%w: Ac.Power %s is not a number", ErrMissingPower, string(powerRaw))
	}
	ev.Power = f

	for _, phase := range []string{"L1", "L2", "L3"} {
		if _, ok := ac[phase]; ok {
			ev.Phases++
		}
	}
	_, ev.HasCurrent = top["Current"]
	_, ev.HasChargingTime = top["ChargingTime"]

	leaves, err := flatten(top)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	ev.Leaves = leaves

	return ev, nil
}

// flatten walks at most three object levels. Keys are visited in sorted order.
func flatten(top map[string]json.RawMessage) ([]Leaf, error) {
	var leaves []Leaf

	for _, k1 := range sortedKeys(top) {
		raw1 := top[k1]
		if !isObject(raw1) {
			leaves = append(leaves, newLeaf("/"+k1, raw1))
			continue
		}

		obj2, err := decodeObject(raw1)
		if err != nil {
			return nil, err
		}
		for _, k2 := range sortedKeys(obj2) {
			raw2 := obj2[k2]
			if !isObject(raw2) {
				leaves = append(leaves, newLeaf("/"+k1+"/"+k2, raw2))
				continue
			}

			obj3, err := decodeObject(raw2)
			if err != nil {
				return nil, err
			}
			for _, k3 := range sortedKeys(obj3) {
				leaves = append(leaves, newLeaf("/"+k1+"/"+k2+"/"+k3, obj3[k3]))
			}
		}
	}

	return leaves, nil
}

func newLeaf(path string, raw json.RawMessage) Leaf {
	v, ok := decodeScalar(raw)
	return Leaf{Path: path, Value: v, Raw: string(raw), Valid: ok}
}

// decodeScalar accepts strings and numbers. Integral numbers become int64,
// the rest float64. Booleans, null, arrays and objects are rejected.
func decodeScalar(raw json.RawMessage) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return i, true
			}
		}
		f, err := t.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected an object, got null")
	}
	return obj, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
