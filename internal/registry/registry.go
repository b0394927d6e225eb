package registry

import (
	"fmt"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
)

// Registry is CXDB's versioned type registry (spec §4.4): an in-memory
// accumulated type universe, backed by immutable bundle snapshots on
// disk under "<dir>/bundles/<bundle_id>.json".
type Registry struct {
	mu      sync.RWMutex
	dir     string
	types   map[string]map[uint32]Descriptor
	enums   map[string]EnumTable
	bundles map[string]Bundle
}

// Open loads every previously published bundle under dir and rebuilds
// the accumulated type/enum universe from their union.
func Open(dir string) (*Registry, error) {
	bundles, err := loadAllBundles(dir)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		dir:     dir,
		types:   make(map[string]map[uint32]Descriptor),
		enums:   make(map[string]EnumTable),
		bundles: bundles,
	}
	for _, b := range bundles {
		r.mergeInto(b)
	}
	return r, nil
}

func (r *Registry) mergeInto(b Bundle) {
	for typeID, versions := range b.Types {
		dst, ok := r.types[typeID]
		if !ok {
			dst = make(map[uint32]Descriptor)
			r.types[typeID] = dst
		}
		for v, d := range versions {
			dst[v] = d
		}
	}
	for enumID, table := range b.Enums {
		dst, ok := r.enums[enumID]
		if !ok {
			dst = make(EnumTable)
			r.enums[enumID] = dst
		}
		for val, label := range table {
			dst[val] = label
		}
	}
}

// PublishReport is the outcome of a publish_bundle call, per triple.
type PublishReport struct {
	BundleID string
	Results  map[string]map[uint32]PublishResult
}

// PublishBundle registers every (type_id, version, descriptor) triple in
// bundle (spec §4.4). If bundleID is empty, a new ID is generated. The
// call is atomic across the bundle: if any triple conflicts, nothing is
// persisted and the first conflict is returned as an error.
func (r *Registry) PublishBundle(bundleID string, bundle Bundle) (PublishReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bundleID == "" {
		bundleID = newBundleID()
	}

	// Work against a scratch copy so a mid-bundle conflict leaves the
	// live registry state untouched.
	scratch := make(map[string]map[uint32]Descriptor, len(r.types))
	for typeID, versions := range r.types {
		vcopy := make(map[uint32]Descriptor, len(versions))
		for v, d := range versions {
			vcopy[v] = d
		}
		scratch[typeID] = vcopy
	}

	results := make(map[string]map[uint32]PublishResult)
	for _, typeID := range sortedTypeIDs(bundle.Types) {
		versions := bundle.Types[typeID]
		results[typeID] = make(map[uint32]PublishResult)
		for _, version := range sortedVersions(versions) {
			desc := versions[version]
			outcome, err := publishOne(scratch, typeID, version, desc)
			if err != nil {
				return PublishReport{}, err
			}
			results[typeID][version] = outcome
			if outcome == Created {
				if scratch[typeID] == nil {
					scratch[typeID] = make(map[uint32]Descriptor)
				}
				scratch[typeID][version] = desc
			}
		}
	}

	// Commit.
	r.types = scratch
	for enumID, table := range bundle.Enums {
		dst, ok := r.enums[enumID]
		if !ok {
			dst = make(EnumTable)
			r.enums[enumID] = dst
		}
		for val, label := range table {
			dst[val] = label
		}
	}

	snapshot := newBundle(bundleID)
	for typeID, versions := range r.types {
		vcopy := make(map[uint32]Descriptor, len(versions))
		for v, d := range versions {
			vcopy[v] = d
		}
		snapshot.Types[typeID] = vcopy
	}
	for enumID, table := range r.enums {
		tcopy := make(EnumTable, len(table))
		for val, label := range table {
			tcopy[val] = label
		}
		snapshot.Enums[enumID] = tcopy
	}
	if err := saveBundle(r.dir, snapshot); err != nil {
		return PublishReport{}, err
	}
	r.bundles[bundleID] = snapshot

	return PublishReport{BundleID: bundleID, Results: results}, nil
}

// publishOne validates and (for Created) reports a single triple against
// scratch, enforcing R1 (idempotent re-publish / conflict), R2 (add-only
// tags), and R3 (dense version numbering). It does not mutate scratch;
// the caller applies Created outcomes.
func publishOne(scratch map[string]map[uint32]Descriptor, typeID string, version uint32, desc Descriptor) (PublishResult, error) {
	existing, hasType := scratch[typeID]

	if hasType {
		if prior, ok := existing[version]; ok {
			if prior.Equal(desc) {
				return Unchanged, nil
			}
			return Conflict, cxerr.NewDescriptorConflict(typeID, version, "redefinition of an already-published descriptor")
		}
	}

	if version == 0 {
		return Conflict, cxerr.NewDescriptorConflict(typeID, version, "version 0 is not a valid type version")
	}
	if version > 1 {
		if !hasType {
			return Conflict, cxerr.NewDescriptorConflict(typeID, version, fmt.Sprintf("version %d published before version 1 exists", version))
		}
		if _, ok := existing[version-1]; !ok {
			return Conflict, cxerr.NewDescriptorConflict(typeID, version, fmt.Sprintf("version %d published before version %d exists", version, version-1))
		}
	}

	if hasType {
		if prev, ok := existing[version-1]; ok {
			for tag, fs := range prev {
				nfs, stillPresent := desc[tag]
				if !stillPresent {
					return Conflict, cxerr.NewDescriptorConflict(typeID, version, fmt.Sprintf("tag %d removed from version %d", tag, version))
				}
				if !nfs.Equal(fs) {
					return Conflict, cxerr.NewDescriptorConflict(typeID, version, fmt.Sprintf("tag %d repurposed in version %d", tag, version))
				}
			}
		}
	}

	return Created, nil
}

// LookupDescriptor returns the descriptor for (typeID, version), if any.
func (r *Registry) LookupDescriptor(typeID string, version uint32) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.types[typeID]
	if !ok {
		return nil, false
	}
	d, ok := versions[version]
	return d, ok
}

// LatestVersion returns the highest registered version of typeID, if any.
func (r *Registry) LatestVersion(typeID string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.types[typeID]
	if !ok || len(versions) == 0 {
		return 0, false
	}
	var max uint32
	for v := range versions {
		if v > max {
			max = v
		}
	}
	return max, true
}

// EnumLabel resolves a value to its label under enumID.
func (r *Registry) EnumLabel(enumID string, value uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.enums[enumID]
	if !ok {
		return "", false
	}
	label, ok := table[value]
	return label, ok
}

// GetBundle returns the stored snapshot published under bundleID.
func (r *Registry) GetBundle(bundleID string) (Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[bundleID]
	if !ok {
		return Bundle{}, false
	}
	return b.clone(), true
}
