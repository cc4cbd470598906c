package charger

import (
	"fmt"
	"maps"
)

// Attribute is one addressable value of the device model
type Attribute struct {
	Path   string
	Value  any // nil, int64, float64 or string
	Format Formatter
}

// Text applies the attribute's formatter to its current value
func (a Attribute) Text() (string, error) {
	return a.Format(a.Value)
}

// Paths of the EV charger device model
const (
	PathAcPower       = "/Ac/Power"
	PathAcL1Power     = "/Ac/L1/Power"
	PathAcL2Power     = "/Ac/L2/Power"
	PathAcL3Power     = "/Ac/L3/Power"
	PathEnergyForward = "/Ac/Energy/Forward"
	PathCurrent       = "/Current"
	PathMaxCurrent    = "/MaxCurrent"
	PathSetCurrent    = "/SetCurrent"
	PathAutoStart     = "/AutoStart"
	PathChargingTime  = "/ChargingTime"
	PathEnableDisplay = "/EnableDisplay"
	PathMode          = "/Mode"
	PathModel         = "/Model"
	PathRole          = "/Role"
	PathStartStop     = "/StartStop"
	PathStatus        = "/Status"

	// PathUpdateIndex is the freshness counter, published outside the registry
	PathUpdateIndex = "/UpdateIndex"
)

// defaultAttributes is the fixed device model, in publish order
func defaultAttributes() []Attribute {
	return []Attribute{
		{Path: PathAcPower, Format: FormatWatts},
		{Path: PathAcL1Power, Format: FormatWatts},
		{Path: PathAcL2Power, Format: FormatWatts},
		{Path: PathAcL3Power, Format: FormatWatts},
		{Path: PathEnergyForward, Format: FormatKWh},

		{Path: PathCurrent, Format: FormatAmps},
		{Path: PathMaxCurrent, Format: FormatAmps},
		{Path: PathSetCurrent, Format: FormatAmps},

		{Path: PathAutoStart, Value: int64(0), Format: FormatNumber},
		{Path: PathChargingTime, Format: FormatNumber},
		{Path: PathEnableDisplay, Value: int64(1), Format: FormatNumber},
		{Path: PathMode, Value: int64(1), Format: FormatNumber},
		{Path: PathModel, Format: FormatString},
		{Path: PathRole, Format: FormatNumber},
		{Path: PathStartStop, Value: int64(1), Format: FormatNumber},

		{Path: PathStatus, Format: FormatNumber},
	}
}

// Registry is the flat path -> attribute map. Paths are fixed at construction.
// It is not safe for concurrent use; the engine serializes access.
type Registry struct {
	attrs map[string]*Attribute
	order []string
}

// NewRegistry creates the EV charger device model with its initial values
func NewRegistry() *Registry {
	return newRegistry(defaultAttributes())
}

func newRegistry(attrs []Attribute) *Registry {
	r := &Registry{
		attrs: make(map[string]*Attribute, len(attrs)),
		order: make([]string, 0, len(attrs)),
	}
	for _, a := range attrs {
		r.attrs[a.Path] = &a
		r.order = append(r.order, a.Path)
	}
	return r
}

// Has reports whether path is predeclared
func (r *Registry) Has(path string) bool {
	_, ok := r.attrs[path]
	return ok
}

// Get returns a copy of the attribute at path
func (r *Registry) Get(path string) (Attribute, error) {
	a, ok := r.attrs[path]
	if !ok {
		return Attribute{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return *a, nil
}

// Value returns the current value at path, nil if unset or unknown
func (r *Registry) Value(path string) any {
	if a, ok := r.attrs[path]; ok {
		return a.Value
	}
	return nil
}

// Set replaces the value at path
func (r *Registry) Set(path string, v any) error {
	a, ok := r.attrs[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	a.Value = v
	return nil
}

// Format renders the current value at path
func (r *Registry) Format(path string) (string, error) {
	a, ok := r.attrs[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	s, err := a.Text()
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Paths returns all predeclared paths in publish order
func (r *Registry) Paths() []string {
	return append([]string(nil), r.order...)
}

// Attributes returns copies of all attributes in publish order
func (r *Registry) Attributes() []Attribute {
	out := make([]Attribute, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, *r.attrs[p])
	}
	return out
}

// Snapshot is a point-in-time copy of the registry
type Snapshot struct {
	Values  map[string]any
	Text    map[string]string
	Index   uint8
	Changed bool // true when the tick published new telemetry
}

// Snapshot copies every value and its formatted text. Unformattable values get "---".
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Values: make(map[string]any, len(r.order)),
		Text:   make(map[string]string, len(r.order)),
	}
	for _, p := range r.order {
		a := r.attrs[p]
		s.Values[p] = a.Value
		text, err := a.Text()
		if err != nil {
			text = "---"
		}
		s.Text[p] = text
	}
	return s
}

// Clone returns an independent copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Values:  maps.Clone(s.Values),
		Text:    maps.Clone(s.Text),
		Index:   s.Index,
		Changed: s.Changed,
	}
}
