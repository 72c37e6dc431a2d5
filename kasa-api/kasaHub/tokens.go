package kasaHub

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var onTokens = map[string]bool{
	"on": true, "heat": true, "heating": true, "idle": true,
	"manual": true, "auto": true, "schedule": true, "comfort": true,
}

var offTokens = map[string]bool{
	"off": true, "false": true, "0": true, "disabled": true, "standby": true,
}

// normalizeToken turns a bool, integer, string or enum value into a lower
// case token. "ThermostatMode.Idle" becomes "idle".
func normalizeToken(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case bool:
		if t {
			return "on", true
		}
		return "off", true
	case string:
		return cleanToken(t)
	case fmt.Stringer:
		return cleanToken(t.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return cleanToken(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return numberToken(rv.Float())
	}
	return "", false
}

// numberToken gives whole numbers their integer token. Fractions have none.
func numberToken(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "", false
	}
	return strconv.FormatInt(int64(f), 10), true
}

// cleanToken strips an enum qualifier ("HvacMode.Heat") unless s is a number,
// so "1.0" stays one.
func cleanToken(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return numberToken(f)
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToLower(s)
	return s, s != ""
}

// flagValue reads an on/off flag. Unrecognized values are reported as absent.
func flagValue(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	tok, ok := normalizeToken(v)
	if !ok {
		return false, false
	}
	if offTokens[tok] {
		return false, true
	}
	if onTokens[tok] || tok == "true" {
		return true, true
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n != 0, true
	}
	return false, false
}

// toFloat coerces numeric readings. Anything non-numeric is absent.
func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case *float64:
		if t == nil {
			return 0, false
		}
		f = *t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "-" || s == "--" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		default:
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
