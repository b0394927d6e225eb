package projection

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/strongdm/cxdb/internal/cxerr"
)

// rawValue is the decoded in-memory value tree produced from msgpack
// bytes (spec §4.5 step 1). The top level must be a map; its keys may
// be integers (numeric tags) or strings (named), and a single map may
// mix both per spec.
type rawValue = any

// decodeTop decodes payload and splits the top-level map into its
// tag-keyed and name-keyed entries.
func decodeTop(payload []byte) (byTag map[uint64]rawValue, byName map[string]rawValue, err error) {
	var top any
	if err := msgpack.Unmarshal(payload, &top); err != nil {
		return nil, nil, fmt.Errorf("decode msgpack payload: %w: %v", cxerr.ErrCorrupt, err)
	}

	byTag = make(map[uint64]rawValue)
	byName = make(map[string]rawValue)

	switch m := top.(type) {
	case map[string]any:
		for k, v := range m {
			byName[k] = v
		}
	case map[any]any:
		for k, v := range m {
			if tag, ok := toUint64(k); ok {
				byTag[tag] = v
				continue
			}
			if s, ok := k.(string); ok {
				byName[s] = v
				continue
			}
			return nil, nil, fmt.Errorf("decode msgpack payload: %w: unsupported map key type %T", cxerr.ErrCorrupt, k)
		}
	default:
		return nil, nil, fmt.Errorf("decode msgpack payload: %w: top level is not a map", cxerr.ErrCorrupt)
	}
	return byTag, byName, nil
}
