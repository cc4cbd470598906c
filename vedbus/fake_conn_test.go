package vedbus

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

type signal struct {
	path dbus.ObjectPath
	name string
	body []interface{}
}

type fakeConn struct {
	mu       sync.Mutex
	exported map[dbus.ObjectPath]interface{}
	signals  []signal
	names    map[string]bool
	emitErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		exported: make(map[dbus.ObjectPath]interface{}),
		names:    make(map[string]bool),
	}
}

func (c *fakeConn) Export(v interface{}, path dbus.ObjectPath, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exported[path] = v
	return nil
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.signals = append(c.signals, signal{path: path, name: name, body: values})
	return nil
}

func (c *fakeConn) RequestName(name string, _ dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		return 0, errors.New("empty name")
	}
	if c.names[name] {
		return dbus.RequestNameReplyExists, nil
	}
	c.names[name] = true
	return dbus.RequestNameReplyPrimaryOwner, nil
}

func (c *fakeConn) item(path string) busItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exported[dbus.ObjectPath(path)].(busItem)
}

func (c *fakeConn) root() rootObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exported["/"].(rootObject)
}
