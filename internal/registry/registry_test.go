package registry

import (
	"errors"
	"testing"

	"github.com/strongdm/cxdb/internal/cxerr"
)

func messageV1() Bundle {
	b := newBundle("")
	b.Types["com.example.Message"] = map[uint32]Descriptor{
		1: {
			1: {Name: "role", Type: "string"},
			2: {Name: "text", Type: "string"},
		},
	}
	return b
}

func TestPublishCreatesNewType(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	report, err := r.PublishBundle("b1", messageV1())
	if err != nil {
		t.Fatalf("PublishBundle: %v", err)
	}
	if report.Results["com.example.Message"][1] != Created {
		t.Fatalf("result = %v, want Created", report.Results["com.example.Message"][1])
	}

	d, ok := r.LookupDescriptor("com.example.Message", 1)
	if !ok {
		t.Fatalf("LookupDescriptor: not found")
	}
	if d[1].Name != "role" {
		t.Fatalf("descriptor tag 1 name = %q, want role", d[1].Name)
	}

	v, ok := r.LatestVersion("com.example.Message")
	if !ok || v != 1 {
		t.Fatalf("LatestVersion = (%d, %v), want (1, true)", v, ok)
	}
}

func TestRepublishIdenticalIsUnchanged(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.PublishBundle("b1", messageV1()); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	report, err := r.PublishBundle("b2", messageV1())
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if report.Results["com.example.Message"][1] != Unchanged {
		t.Fatalf("result = %v, want Unchanged", report.Results["com.example.Message"][1])
	}
}

func TestConflictingRedefinitionFails(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.PublishBundle("b1", messageV1()); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	bad := newBundle("")
	bad.Types["com.example.Message"] = map[uint32]Descriptor{
		1: {
			1: {Name: "role", Type: "int64"}, // same tag, different type: repurposed
		},
	}
	_, err = r.PublishBundle("b2", bad)
	if !errors.Is(err, cxerr.ErrDescriptorConflict) {
		t.Fatalf("PublishBundle(conflicting) err = %v, want ErrDescriptorConflict", err)
	}

	// Failed publish must not have mutated the live registry.
	d, _ := r.LookupDescriptor("com.example.Message", 1)
	if d[1].Type != "string" {
		t.Fatalf("descriptor mutated after failed publish: %+v", d[1])
	}
}

func TestAddOnlyTagsAcrossVersions(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.PublishBundle("b1", messageV1()); err != nil {
		t.Fatalf("v1 publish: %v", err)
	}

	v2 := newBundle("")
	v2.Types["com.example.Message"] = map[uint32]Descriptor{
		2: {
			1: {Name: "role", Type: "string"},
			2: {Name: "text", Type: "string"},
			3: {Name: "timestamp", Type: "int64", Semantic: "unix_ms"},
		},
	}
	report, err := r.PublishBundle("b2", v2)
	if err != nil {
		t.Fatalf("v2 publish: %v", err)
	}
	if report.Results["com.example.Message"][2] != Created {
		t.Fatalf("v2 result = %v, want Created", report.Results["com.example.Message"][2])
	}

	removesTag := newBundle("")
	removesTag.Types["com.example.Message"] = map[uint32]Descriptor{
		3: {
			1: {Name: "role", Type: "string"},
			// tag 2 (text) dropped: violates R2.
			3: {Name: "timestamp", Type: "int64", Semantic: "unix_ms"},
		},
	}
	_, err = r.PublishBundle("b3", removesTag)
	if !errors.Is(err, cxerr.ErrDescriptorConflict) {
		t.Fatalf("PublishBundle(drops tag) err = %v, want ErrDescriptorConflict", err)
	}
}

func TestDenseVersionNumbering(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	skipsV1 := newBundle("")
	skipsV1.Types["com.example.Message"] = map[uint32]Descriptor{
		2: {1: {Name: "role", Type: "string"}},
	}
	_, err = r.PublishBundle("b1", skipsV1)
	if !errors.Is(err, cxerr.ErrDescriptorConflict) {
		t.Fatalf("PublishBundle(v2 without v1) err = %v, want ErrDescriptorConflict", err)
	}
}

func TestReopenRebuildsFromBundles(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.PublishBundle("b1", messageV1()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	r2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d, ok := r2.LookupDescriptor("com.example.Message", 1)
	if !ok || d[2].Name != "text" {
		t.Fatalf("descriptor not recovered after reopen: %+v, ok=%v", d, ok)
	}
	b, ok := r2.GetBundle("b1")
	if !ok || b.BundleID != "b1" {
		t.Fatalf("GetBundle(b1) = %+v, ok=%v", b, ok)
	}
}

func TestEnumLabelLookup(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b := messageV1()
	b.Enums["com.example.Role"] = EnumTable{0: "user", 1: "assistant"}
	if _, err := r.PublishBundle("b1", b); err != nil {
		t.Fatalf("publish: %v", err)
	}
	label, ok := r.EnumLabel("com.example.Role", 1)
	if !ok || label != "assistant" {
		t.Fatalf("EnumLabel(1) = (%q, %v), want (assistant, true)", label, ok)
	}
}
