package charger

import (
	"fmt"
)

// Formatter renders an attribute value as display text
type Formatter func(v any) (string, error)

// FormatAmps renders a current, e.g. "6.5A"
func FormatAmps(v any) (string, error) {
	f, ok := toFloat(v)
	if !ok {
		return "", formatErr(v)
	}
	return fmt.Sprintf("%.1fA", f), nil
}

// FormatNumber renders an integer, truncating fractional values
func FormatNumber(v any) (string, error) {
	f, ok := toFloat(v)
	if !ok {
		return "", formatErr(v)
	}
	return fmt.Sprintf("%d", int64(f)), nil
}

// FormatString renders any value with %v. An unset value renders as "".
func FormatString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", v), nil
}

// FormatWatts renders a power, e.g. "1500W"
func FormatWatts(v any) (string, error) {
	f, ok := toFloat(v)
	if !ok {
		return "", formatErr(v)
	}
	return fmt.Sprintf("%dW", int64(f)), nil
}

// FormatKWh renders an energy total, e.g. "12.34kWh"
func FormatKWh(v any) (string, error) {
	f, ok := toFloat(v)
	if !ok {
		return "", formatErr(v)
	}
	return fmt.Sprintf("%.2fkWh", f), nil
}

func formatErr(v any) error {
	if v == nil {
		return fmt.Errorf("%w: value is unset", ErrFormat)
	}
	return fmt.Errorf("%w: %v (%T) is not a number", ErrFormat, v, v)
}

// toFloat converts the numeric kinds the engine stores to float64
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint8:
		return float64(n), true
	default:
		return 0, false
	}
}
