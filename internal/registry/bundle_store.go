package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/cxdb/internal/cxerr"
)

func bundlesDir(dir string) string { return filepath.Join(dir, "bundles") }

func bundlePath(dir, bundleID string) string {
	return filepath.Join(bundlesDir(dir), bundleID+".json")
}

// loadAllBundles reads every registry/bundles/<id>.json file under dir.
// Order is irrelevant: each snapshot was already valid at publish time,
// and the accumulated type universe is the union of every bundle's types
// (tags are add-only, so union is order-independent).
func loadAllBundles(dir string) (map[string]Bundle, error) {
	out := make(map[string]Bundle)
	entries, err := os.ReadDir(bundlesDir(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read bundles dir: %w: %v", cxerr.ErrIO, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(bundlesDir(dir), e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w: %v", path, cxerr.ErrIO, err)
		}
		var bundle Bundle
		if err := json.Unmarshal(b, &bundle); err != nil {
			return nil, fmt.Errorf("parse %s: %w: %v", path, cxerr.ErrCorrupt, err)
		}
		out[bundle.BundleID] = bundle
	}
	return out, nil
}

// saveBundle writes bundle's canonical JSON representation under
// registry/bundles/<bundle_id>.json, atomically.
func saveBundle(dir string, bundle Bundle) error {
	if err := os.MkdirAll(bundlesDir(dir), 0o755); err != nil {
		return fmt.Errorf("mkdir bundles dir: %w: %v", cxerr.ErrIO, err)
	}
	out, err := json.MarshalIndent(canonicalizeBundle(bundle), "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle %s: %w", bundle.BundleID, err)
	}
	path := bundlePath(dir, bundle.BundleID)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write bundle %s: %w: %v", bundle.BundleID, cxerr.ErrIO, err)
	}
	if _, err := f.Write(out); err != nil {
		_ = f.Close()
		return fmt.Errorf("write bundle %s: %w: %v", bundle.BundleID, cxerr.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync bundle %s: %w: %v", bundle.BundleID, cxerr.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close bundle %s: %w: %v", bundle.BundleID, cxerr.ErrIO, err)
	}
	return os.Rename(tmp, path)
}

// canonicalizeBundle returns a copy with deterministic iteration-friendly
// structure; Go's encoding/json already sorts map keys on marshal, so
// this mainly documents that the on-disk form is reproducible.
func canonicalizeBundle(b Bundle) Bundle { return b }

func newBundleID() string { return ulid.Make().String() }

func sortedTypeIDs(types map[string]map[uint32]Descriptor) []string {
	ids := make([]string, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedVersions(versions map[uint32]Descriptor) []uint32 {
	vs := make([]uint32, 0, len(versions))
	for v := range versions {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}
