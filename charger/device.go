package charger

// DeviceInterface is the management-bus side of the device model.
// SetAttribute must wrap ErrValueType when it cannot carry a value's type.
type DeviceInterface interface {
	RegisterAttribute(path string, initial any, format Formatter, writable bool) error
	SetAttribute(path string, value any) error
}

// Announcer is implemented by device interfaces that become visible to other
// processes only once every attribute is registered
type Announcer interface {
	Announce() error
}

// Identity describes the device to management-bus consumers
type Identity struct {
	ProcessName     string
	ProcessVersion  string
	Connection      string
	DeviceInstance  int
	ProductName     string
	CustomName      string
	FirmwareVersion string
	Position        int
}

const productID = 0xFFFF

// attributes returns the read-only identity paths in registration order
func (id Identity) attributes() []Attribute {
	return []Attribute{
		{Path: "/Mgmt/ProcessName", Value: id.ProcessName, Format: FormatString},
		{Path: "/Mgmt/ProcessVersion", Value: id.ProcessVersion, Format: FormatString},
		{Path: "/Mgmt/Connection", Value: id.Connection, Format: FormatString},
		{Path: "/DeviceInstance", Value: int64(id.DeviceInstance), Format: FormatString},
		{Path: "/ProductId", Value: int64(productID), Format: FormatString},
		{Path: "/ProductName", Value: id.ProductName, Format: FormatString},
		{Path: "/CustomName", Value: id.CustomName, Format: FormatString},
		{Path: "/FirmwareVersion", Value: id.FirmwareVersion, Format: FormatString},
		{Path: "/Connected", Value: int64(1), Format: FormatString},
		{Path: "/Position", Value: int64(id.Position), Format: FormatString},
		{Path: "/Latency", Format: FormatString},
	}
}
