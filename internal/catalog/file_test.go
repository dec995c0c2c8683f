package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vdrs/dykscribe/internal/catalog"
)

func writeCatalogFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}
	return path
}

func TestNewFileSource_EmptyPath(t *testing.T) {
	if _, err := catalog.NewFileSource(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestFileSource_LoadAll(t *testing.T) {
	path := writeCatalogFile(t, `
users:
  - name: "Rivera, Dana"
    role: FSE
manufacturers:
  - Siemens
  - GE Healthcare
equipment_types:
  - manufacturer: Siemens
    name: Ventilator
models:
  - manufacturer: Siemens
    equipment_type: Ventilator
    model: Servo-i
    spec2: Adult
    spec3: 230V
spec_labels:
  - equipment_type: Ventilator
    label2: Patient Group
    label3: Supply Voltage
`)

	src, err := catalog.NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	c, err := src.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if role, ok := c.RoleFor("Rivera, Dana"); !ok || role != "FSE" {
		t.Errorf("RoleFor = %q, %v", role, ok)
	}
	if got := c.ManufacturerNames(); len(got) != 2 {
		t.Errorf("ManufacturerNames() = %v, want 2 entries", got)
	}
	spec2, spec3, ok := c.DefaultSpecs("Siemens", "Ventilator", "Servo-i")
	if !ok || spec2 != "Adult" || spec3 != "230V" {
		t.Errorf("DefaultSpecs = %q, %q, %v", spec2, spec3, ok)
	}
	label2, _ := c.LabelsFor("Ventilator")
	if label2 != "Patient Group" {
		t.Errorf("label2 = %q", label2)
	}
}

func TestFileSource_UnknownKeyRejected(t *testing.T) {
	path := writeCatalogFile(t, `
manufactuers:
  - Siemens
`)

	src, err := catalog.NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	if _, err := src.LoadAll(context.Background()); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestFileSource_EmptyFile(t *testing.T) {
	path := writeCatalogFile(t, "")

	src, err := catalog.NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	c, err := src.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(c.ManufacturerNames()) != 0 {
		t.Errorf("empty file produced manufacturers: %v", c.ManufacturerNames())
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	src, err := catalog.NewFileSource(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	if _, err := src.LoadAll(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
