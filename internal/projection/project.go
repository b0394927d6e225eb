package projection

import (
	"fmt"
	"strconv"

	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/registry"
)

// TypeResolver is the slice of internal/registry.Registry the projection
// engine needs: descriptor lookup for nested fields and enum label
// resolution. internal/store wires *registry.Registry in directly.
type TypeResolver interface {
	LookupDescriptor(typeID string, version uint32) (registry.Descriptor, bool)
	LatestVersion(typeID string) (uint32, bool)
	EnumLabel(enumID string, value uint64) (string, bool)
}

// Result is projection's output: the typed object plus, when
// opts.IncludeUnknown is set, the sub-object of decoded fields the
// descriptor didn't name.
type Result struct {
	Data    map[string]any
	Unknown map[string]any
}

// Project converts msgpack payload bytes into typed JSON-ready data
// under desc (spec §4.5). reg resolves nested descriptors and enum
// labels; it may be nil if desc has no nested or enum_id fields.
func Project(payload []byte, desc registry.Descriptor, reg TypeResolver, opts Options) (Result, error) {
	byTag, byName, err := decodeTop(payload)
	if err != nil {
		return Result{}, err
	}
	return projectMap(byTag, byName, desc, reg, opts)
}

func projectMap(byTag map[uint64]rawValue, byName map[string]rawValue, desc registry.Descriptor, reg TypeResolver, opts Options) (Result, error) {
	data := make(map[string]any, len(desc))
	consumedTags := make(map[uint64]bool, len(desc))
	consumedNames := make(map[string]bool, len(desc))

	for tag, fs := range desc {
		v, present := byTag[uint64(tag)]
		if present {
			consumedTags[uint64(tag)] = true
		} else {
			v, present = byName[fs.Name]
			if present {
				consumedNames[fs.Name] = true
			}
		}
		if !present {
			continue // omit missing fields; optional is advisory
		}

		rendered, err := renderField(v, fs, reg, opts)
		if err != nil {
			return Result{}, fmt.Errorf("field %s (tag %d): %w", fs.Name, tag, err)
		}
		data[fs.Name] = rendered
	}

	var unknown map[string]any
	if opts.IncludeUnknown {
		unknown = make(map[string]any)
		for tag, v := range byTag {
			if !consumedTags[tag] {
				unknown[strconv.FormatUint(tag, 10)] = v
			}
		}
		for name, v := range byName {
			if !consumedNames[name] {
				unknown[name] = v
			}
		}
	}

	return Result{Data: data, Unknown: unknown}, nil
}

func renderField(v rawValue, fs registry.FieldSpec, reg TypeResolver, opts Options) (any, error) {
	if fs.EnumID != "" {
		raw, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected integer enum value, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		var label string
		var haveLabel bool
		if reg != nil {
			label, haveLabel = reg.EnumLabel(fs.EnumID, raw)
		}
		return renderEnum(raw, label, haveLabel, opts.EnumRender), nil
	}

	if fs.Semantic == "unix_ms" {
		ms, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected integer timestamp, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return renderTimestamp(ms, opts.TimeRender), nil
	}

	switch fs.Type {
	case "string":
		s, ok := toString(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return s, nil

	case "bool":
		b, ok := toBool(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return b, nil

	case "bytes":
		b, ok := toBytes(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected bytes, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return renderBytes(b, opts.BytesRender), nil

	case "u64":
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected unsigned integer, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return renderU64(n, opts.U64Format), nil

	case "nested":
		m, ok := v.(map[string]any)
		var byTag map[uint64]rawValue
		var byName map[string]rawValue
		if ok {
			byName = m
			byTag = map[uint64]rawValue{}
		} else if mm, ok2 := v.(map[any]any); ok2 {
			byTag = map[uint64]rawValue{}
			byName = map[string]rawValue{}
			for k, vv := range mm {
				if tag, ok3 := toUint64(k); ok3 {
					byTag[tag] = vv
				} else if s, ok3 := k.(string); ok3 {
					byName[s] = vv
				}
			}
		} else {
			return nil, fmt.Errorf("%w: expected map for nested field, got %T", cxerr.ErrFieldTypeMismatch, v)
		}

		nestedDesc, err := resolveNested(fs.NestedTypeID, reg)
		if err != nil {
			return nil, err
		}
		res, err := projectMap(byTag, byName, nestedDesc, reg, opts)
		if err != nil {
			return nil, err
		}
		if opts.IncludeUnknown && len(res.Unknown) > 0 {
			return map[string]any{"data": res.Data, "unknown": res.Unknown}, nil
		}
		return res.Data, nil

	default:
		if elemType, isArr := splitArrayElem(fs.Type); isArr {
			return renderArray(v, fs, elemType, reg, opts)
		}
		if keyType, valType, isMapT := splitMapKV(fs.Type); isMapT {
			return renderMapField(v, fs, keyType, valType, reg, opts)
		}
		if isIntegerType(fs.Type) {
			return renderScalarInteger(v, fs.Type, opts)
		}
		if isFloatType(fs.Type) {
			f, ok := toFloat64(v)
			if !ok {
				return nil, fmt.Errorf("%w: expected float, got %T", cxerr.ErrFieldTypeMismatch, v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%w: unknown field type %q", cxerr.ErrFieldTypeMismatch, fs.Type)
	}
}

func renderScalarInteger(v rawValue, t string, opts Options) (any, error) {
	if t == "u64" {
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected unsigned integer, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return renderU64(n, opts.U64Format), nil
	}
	if isUnsignedType(t) {
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected unsigned integer, got %T", cxerr.ErrFieldTypeMismatch, v)
		}
		return n, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return nil, fmt.Errorf("%w: expected integer, got %T", cxerr.ErrFieldTypeMismatch, v)
	}
	return n, nil
}

// RawFallback renders payload as an opaque bytes value, used when no
// descriptor is available and the caller's view tolerates a fallback
// (spec §4.5 "Type hint failure").
func RawFallback(payload []byte, opts Options) map[string]any {
	return map[string]any{"data": renderBytes(payload, opts.BytesRender)}
}

func resolveNested(nestedTypeID string, reg TypeResolver) (registry.Descriptor, error) {
	if nestedTypeID == "" || reg == nil {
		return nil, fmt.Errorf("%w: nested field without a resolvable descriptor", cxerr.ErrDescriptorMissing)
	}
	version, ok := reg.LatestVersion(nestedTypeID)
	if !ok {
		return nil, fmt.Errorf("%w: nested type %s", cxerr.ErrDescriptorMissing, nestedTypeID)
	}
	desc, ok := reg.LookupDescriptor(nestedTypeID, version)
	if !ok {
		return nil, fmt.Errorf("%w: nested type %s@%d", cxerr.ErrDescriptorMissing, nestedTypeID, version)
	}
	return desc, nil
}

func renderArray(v rawValue, fs registry.FieldSpec, elemType string, reg TypeResolver, opts Options) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", cxerr.ErrFieldTypeMismatch, v)
	}
	elemSpec := registry.FieldSpec{Name: fs.Name, Type: elemType, EnumID: fs.EnumID, NestedTypeID: fs.NestedTypeID, Semantic: fs.Semantic}
	out := make([]any, 0, len(items))
	for _, item := range items {
		rendered, err := renderField(item, elemSpec, reg, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}

func renderMapField(v rawValue, fs registry.FieldSpec, keyType, valType string, reg TypeResolver, opts Options) (any, error) {
	valSpec := registry.FieldSpec{Name: fs.Name, Type: valType, EnumID: fs.EnumID, NestedTypeID: fs.NestedTypeID}
	out := make(map[string]any)

	renderKey := func(k any) (string, error) {
		if keyType == "string" {
			s, ok := toString(k)
			if !ok {
				return "", fmt.Errorf("%w: expected string map key, got %T", cxerr.ErrFieldTypeMismatch, k)
			}
			return s, nil
		}
		n, ok := toUint64(k)
		if !ok {
			return "", fmt.Errorf("%w: expected integer map key, got %T", cxerr.ErrFieldTypeMismatch, k)
		}
		return strconv.FormatUint(n, 10), nil
	}

	switch m := v.(type) {
	case map[string]any:
		for k, vv := range m {
			rendered, err := renderField(vv, valSpec, reg, opts)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
	case map[any]any:
		for k, vv := range m {
			key, err := renderKey(k)
			if err != nil {
				return nil, err
			}
			rendered, err := renderField(vv, valSpec, reg, opts)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
	default:
		return nil, fmt.Errorf("%w: expected map, got %T", cxerr.ErrFieldTypeMismatch, v)
	}
	return out, nil
}
