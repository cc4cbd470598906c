// Package vedbus publishes a flat path -> value model on D-Bus using the Victron
// BusItem convention: one object per path plus a root object listing all items.
package vedbus

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
)

const (
	BusItemInterface = "com.victronenergy.BusItem"

	propertiesChanged = BusItemInterface + ".PropertiesChanged"

	// SetValue result codes
	setOK       int32 = 0
	setReadOnly int32 = 1
	setInvalid  int32 = 2
)

// Conn is the subset of *dbus.Conn the service needs
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
}

var _ Conn = (*dbus.Conn)(nil)

// Service is a charger.DeviceInterface backed by D-Bus
type Service struct {
	conn Conn
	name string
	log  zerolog.Logger

	mu    sync.Mutex
	items map[string]*item
}

var (
	_ charger.DeviceInterface = (*Service)(nil)
	_ charger.Announcer       = (*Service)(nil)
)

type item struct {
	path     string
	value    any
	format   charger.Formatter
	writable bool
}

// New creates a service that will claim name on Announce
func New(conn Conn, name string, log zerolog.Logger) (*Service, error) {
	s := &Service{
		conn:  conn,
		name:  name,
		log:   log.With().Str("service", name).Logger(),
		items: make(map[string]*item),
	}
	if err := conn.Export(rootObject{s}, "/", BusItemInterface); err != nil {
		return nil, fmt.Errorf("export root object: %w", err)
	}
	return s, nil
}

// Name returns the bus name the service claims
func (s *Service) Name() string { return s.name }

// RegisterAttribute exports a BusItem object at path
func (s *Service) RegisterAttribute(path string, initial any, format charger.Formatter, writable bool) error {
	if _, err := wrapValue(initial); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !dbus.ObjectPath(path).IsValid() {
		return fmt.Errorf("invalid object path %q", path)
	}

	s.mu.Lock()
	if _, ok := s.items[path]; ok {
		s.mu.Unlock()
		return fmt.Errorf("path %s is already registered", path)
	}
	it := &item{path: path, value: initial, format: format, writable: writable}
	s.items[path] = it
	s.mu.Unlock()

	if err := s.conn.Export(busItem{s: s, path: path}, dbus.ObjectPath(path), BusItemInterface); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

// SetAttribute updates the value at path and signals the change.
// Values the bus cannot carry fail with charger.ErrValueType.
func (s *Service) SetAttribute(path string, value any) error {
	v, err := wrapValue(value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	s.mu.Lock()
	it, ok := s.items[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", charger.ErrUnknownPath, path)
	}
	if it.value == value {
		s.mu.Unlock()
		return nil
	}
	it.value = value
	text := textOf(value, it.format)
	s.mu.Unlock()

	return s.emitChanged(path, v, text)
}

func (s *Service) emitChanged(path string, v dbus.Variant, text string) error {
	changes := map[string]dbus.Variant{
		"Value": v,
		"Text":  dbus.MakeVariant(text),
	}
	if err := s.conn.Emit(dbus.ObjectPath(path), propertiesChanged, changes); err != nil {
		return fmt.Errorf("emit %s: %w", path, err)
	}
	return nil
}

// Announce claims the service name, making the device visible to consumers
func (s *Service) Announce() error {
	reply, err := s.conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", s.name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s is already taken", s.name)
	}
	s.mu.Lock()
	n := len(s.items)
	s.mu.Unlock()
	s.log.Info().Int("paths", n).Msg("Registered on D-Bus")
	return nil
}

// Value returns the bus-side value at path. Writes from other bus clients end
// up here without touching the engine's registry.
func (s *Service) Value(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[path]
	if !ok {
		return nil, false
	}
	return it.value, true
}

func (s *Service) lookup(path string) (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[path]
	if !ok {
		return item{}, false
	}
	return *it, true
}

// externalSet handles SetValue from another bus client
func (s *Service) externalSet(path string, v dbus.Variant) int32 {
	value := unwrapValue(v)
	wrapped, err := wrapValue(value)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Rejected write with unsupported value")
		return setInvalid
	}

	s.mu.Lock()
	it, ok := s.items[path]
	if !ok || !it.writable {
		s.mu.Unlock()
		s.log.Warn().Str("path", path).Msg("Rejected write to read-only path")
		return setReadOnly
	}
	changed := it.value != value
	it.value = value
	text := textOf(value, it.format)
	s.mu.Unlock()

	s.log.Info().Msgf("someone else updated %s to %v", path, value)

	if changed {
		if err := s.emitChanged(path, wrapped, text); err != nil {
			s.log.Error().Err(err).Msg("Failed to signal external update")
		}
	}
	return setOK
}

func (s *Service) itemsTable() map[string]map[string]dbus.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]dbus.Variant, len(s.items))
	for p, it := range s.items {
		v, err := wrapValue(it.value)
		if err != nil {
			v = invalidValue
		}
		out[p] = map[string]dbus.Variant{
			"Value": v,
			"Text":  dbus.MakeVariant(textOf(it.value, it.format)),
		}
	}
	return out
}

// busItem is the object exported at each path
type busItem struct {
	s    *Service
	path string
}

func (b busItem) GetValue() (dbus.Variant, *dbus.Error) {
	it, ok := b.s.lookup(b.path)
	if !ok {
		return invalidValue, nil
	}
	v, err := wrapValue(it.value)
	if err != nil {
		return invalidValue, dbus.MakeFailedError(err)
	}
	return v, nil
}

func (b busItem) GetText() (string, *dbus.Error) {
	it, ok := b.s.lookup(b.path)
	if !ok {
		return "---", nil
	}
	return textOf(it.value, it.format), nil
}

func (b busItem) SetValue(v dbus.Variant) (int32, *dbus.Error) {
	return b.s.externalSet(b.path, v), nil
}

// rootObject answers for "/"
type rootObject struct {
	s *Service
}

func (r rootObject) GetItems() (map[string]map[string]dbus.Variant, *dbus.Error) {
	return r.s.itemsTable(), nil
}
