package projection

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}
	return nil, false
}

func toBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// renderU64 applies opts.U64Format to an already-validated u64 value.
func renderU64(v uint64, format U64Format) any {
	if format == U64String {
		return strconv.FormatUint(v, 10)
	}
	return v
}

// renderTimestamp applies opts.TimeRender to a semantic=unix_ms integer.
func renderTimestamp(ms int64, render TimeRender) any {
	if render == TimeISO {
		return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return ms
}

// renderBytes applies opts.BytesRender.
func renderBytes(b []byte, render BytesRender) any {
	switch render {
	case BytesHex:
		return hex.EncodeToString(b)
	case BytesDescriptive:
		return fmt.Sprintf("<%d bytes>", len(b))
	default:
		return base64.StdEncoding.EncodeToString(b)
	}
}

// renderEnum applies opts.EnumRender given a resolved label (label may
// be "" with ok=false if the registry has no entry for value).
func renderEnum(value uint64, label string, haveLabel bool, render EnumRender) any {
	switch render {
	case EnumNumber:
		return value
	case EnumObject:
		obj := map[string]any{"value": value}
		if haveLabel {
			obj["label"] = label
		}
		return obj
	default: // EnumLabel
		if haveLabel {
			return label
		}
		return value
	}
}

// splitArrayElem extracts T from "array<T>"; ok is false if t is not
// an array type string.
func splitArrayElem(t string) (string, bool) {
	if !strings.HasPrefix(t, "array<") || !strings.HasSuffix(t, ">") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(t, "array<"), ">"), true
}

// splitMapKV extracts K, V from "map<K,V>"; ok is false if t is not a
// map type string.
func splitMapKV(t string) (key, val string, ok bool) {
	if !strings.HasPrefix(t, "map<") || !strings.HasSuffix(t, ">") {
		return "", "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(t, "map<"), ">")
	idx := strings.Index(inner, ",")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(inner[:idx]), strings.TrimSpace(inner[idx+1:]), true
}

func isIntegerType(t string) bool {
	switch t {
	case "u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64":
		return true
	}
	return false
}

func isFloatType(t string) bool {
	return t == "f32" || t == "f64"
}

func isUnsignedType(t string) bool {
	switch t {
	case "u8", "u16", "u32", "u64":
		return true
	}
	return false
}
