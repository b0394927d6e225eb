// Package registry implements CXDB's versioned type registry: publish and
// lookup of descriptors and enum label tables, grouped into immutable
// bundle snapshots.
package registry

// FieldSpec describes one tag of a Descriptor.
type FieldSpec struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Optional     bool   `json:"optional,omitempty"`
	EnumID       string `json:"enum_id,omitempty"`
	NestedTypeID string `json:"nested_type_id,omitempty"`
	Semantic     string `json:"semantic,omitempty"`
}

// Equal reports whether two field specs describe the same tag meaning,
// used to detect a "repurposed" tag under R2.
func (f FieldSpec) Equal(o FieldSpec) bool {
	return f.Name == o.Name && f.Type == o.Type && f.Optional == o.Optional &&
		f.EnumID == o.EnumID && f.NestedTypeID == o.NestedTypeID && f.Semantic == o.Semantic
}

// Descriptor is the tag -> field_spec mapping for one (type_id, version).
type Descriptor map[uint32]FieldSpec

// Equal reports whether two descriptors are byte-identical in meaning
// (R1's "re-publishing byte-identical descriptor is idempotent" check).
func (d Descriptor) Equal(o Descriptor) bool {
	if len(d) != len(o) {
		return false
	}
	for tag, fs := range d {
		ofs, ok := o[tag]
		if !ok || !fs.Equal(ofs) {
			return false
		}
	}
	return true
}

// EnumTable is the value -> label mapping for one enum_id.
type EnumTable map[uint64]string

// Bundle is an immutable snapshot of the full type universe at a point
// in time: types (type_id -> version -> descriptor) and enums (enum_id
// -> value -> label).
type Bundle struct {
	BundleID string                          `json:"bundle_id"`
	Types    map[string]map[uint32]Descriptor `json:"types"`
	Enums    map[string]EnumTable            `json:"enums"`
}

func newBundle(id string) Bundle {
	return Bundle{
		BundleID: id,
		Types:    make(map[string]map[uint32]Descriptor),
		Enums:    make(map[string]EnumTable),
	}
}

func (b Bundle) clone() Bundle {
	out := newBundle(b.BundleID)
	for typeID, versions := range b.Types {
		vcopy := make(map[uint32]Descriptor, len(versions))
		for v, d := range versions {
			dcopy := make(Descriptor, len(d))
			for tag, fs := range d {
				dcopy[tag] = fs
			}
			vcopy[v] = dcopy
		}
		out.Types[typeID] = vcopy
	}
	for enumID, table := range b.Enums {
		tcopy := make(EnumTable, len(table))
		for val, label := range table {
			tcopy[val] = label
		}
		out.Enums[enumID] = tcopy
	}
	return out
}

// PublishResult is the outcome of a single (type_id, version, descriptor)
// triple within a publish_bundle call.
type PublishResult int

const (
	Created PublishResult = iota
	Unchanged
	Conflict
)

func (r PublishResult) String() string {
	switch r {
	case Created:
		return "created"
	case Unchanged:
		return "unchanged"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a PublishResult as its string form so
// publish_bundle's JSON gateway response reads "created"/"unchanged"/
// "conflict" rather than a bare integer.
func (r PublishResult) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}
