package rules

import (
	"encoding/json"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Answers arrive from JSON clients, so comparisons follow the loose typing
// those clients use: a single number type, string coercion for substring
// tests and numeric coercion (NaN on failure) for ordering.

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// toFloat reports the numeric value of any Go number kind or json.Number
func toFloat(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return math.NaN(), true
		}
		return f, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func isList(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv, true
	}
	return reflect.Value{}, false
}

// strictEquals compares without coercion. Lists and maps have reference
// identity on the wire and are never equal to each other.
func strictEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// sameValueZero is strictEquals except that NaN matches NaN
func sameValueZero(a, b any) bool {
	x, xok := toFloat(a)
	y, yok := toFloat(b)
	if xok && yok && math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	return strictEquals(a, b)
}

func contains(stored, value any) bool {
	if list, ok := isList(stored); ok {
		for i := 0; i < list.Len(); i++ {
			if sameValueZero(list.Index(i).Interface(), value) {
				return true
			}
		}
		return false
	}

	haystack := ""
	if stored != nil {
		haystack = jsString(stored)
	}
	return strings.Contains(haystack, jsString(value))
}

func exists(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// jsString renders a value the way a JSON client would stringify it
func jsString(v any) string {
	if v == nil {
		return "undefined"
	}
	if f, ok := toFloat(v); ok {
		return formatNumber(f)
	}

	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}

	if list, ok := isList(v); ok {
		parts := make([]string, list.Len())
		for i := range parts {
			elem := list.Index(i).Interface()
			if elem != nil {
				parts[i] = jsString(elem)
			}
		}
		return strings.Join(parts, ",")
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Struct:
		return "[object Object]"
	case reflect.Pointer:
		if reflect.ValueOf(v).IsNil() {
			return "null"
		}
		return jsString(reflect.ValueOf(v).Elem().Interface())
	}
	return "undefined"
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		return mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// jsNumber coerces a value to a number, NaN when it has no numeric reading
func jsNumber(v any) float64 {
	if v == nil {
		return math.NaN()
	}
	if f, ok := toFloat(v); ok {
		return f
	}

	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		return parseNumber(x)
	}

	if _, ok := isList(v); ok {
		return parseNumber(jsString(v))
	}
	return math.NaN()
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}

	if !decimalPattern.MatchString(s) {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !isRangeError(err) {
		return math.NaN()
	}
	return f
}

func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}
