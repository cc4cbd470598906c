package charger

import (
	"fmt"
	"sync"
)

type fakeDevice struct {
	mu         sync.Mutex
	registered []string
	writable   map[string]bool
	values     map[string]any
	pushes     map[string]int
	failures   map[string]error
	announced  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		writable: make(map[string]bool),
		values:   make(map[string]any),
		pushes:   make(map[string]int),
		failures: make(map[string]error),
	}
}

func (d *fakeDevice) RegisterAttribute(path string, initial any, _ Formatter, writable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.writable[path]; ok {
		return fmt.Errorf("duplicate path %s", path)
	}
	d.registered = append(d.registered, path)
	d.writable[path] = writable
	d.values[path] = initial
	return nil
}

func (d *fakeDevice) SetAttribute(path string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failures[path]; ok {
		return err
	}
	d.values[path] = value
	d.pushes[path]++
	return nil
}

func (d *fakeDevice) Announce() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.announced = true
	return nil
}

func (d *fakeDevice) value(path string) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[path]
}

func (d *fakeDevice) pushCount(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pushes[path]
}
