package vedbus

import (
	"fmt"
	"math"

	"github.com/godbus/dbus/v5"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
)

// invalidValue is how an unset value travels on the bus: an empty int array
var invalidValue = dbus.MakeVariant([]int32{})

// wrapValue converts a registry value to its bus representation
func wrapValue(v any) (dbus.Variant, error) {
	switch t := v.(type) {
	case nil:
		return invalidValue, nil
	case int64:
		if t >= math.MinInt32 && t <= math.MaxInt32 {
			return dbus.MakeVariant(int32(t)), nil
		}
		return dbus.MakeVariant(t), nil
	case int:
		return wrapValue(int64(t))
	case int32:
		return dbus.MakeVariant(t), nil
	case float64:
		return dbus.MakeVariant(t), nil
	case string:
		return dbus.MakeVariant(t), nil
	default:
		return dbus.Variant{}, fmt.Errorf("%w: %T", charger.ErrValueType, v)
	}
}

// unwrapValue converts a value written by another bus client back to the
// registry's kinds. Unknown kinds are kept as-is.
func unwrapValue(v dbus.Variant) any {
	switch t := v.Value().(type) {
	case []int32:
		if len(t) == 0 {
			return nil
		}
		return t
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case byte:
		return int64(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	default:
		return t
	}
}

func textOf(v any, format charger.Formatter) string {
	if v == nil || format == nil {
		return "---"
	}
	s, err := format(v)
	if err != nil {
		return "---"
	}
	return s
}
