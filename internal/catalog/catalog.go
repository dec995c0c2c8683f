// Package catalog provides the equipment reference data consumed by the
// submission form: eligible technicians, manufacturers, equipment types,
// models, specification options, and per-type specification labels.
//
// The catalog is loaded as an immutable snapshot ([Catalog]) from a [Source].
// Three sources exist: [SQLSource] reads the catalog views of the service
// database, [FileSource] parses a YAML file, and [StaticSource] serves a
// fixed snapshot for tests and development. Long-running servers can keep the
// snapshot current with a [Refresher].
//
// All snapshot accessors are safe for concurrent use; a Catalog is read-only
// after construction.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Default display labels for the two specification fields, used when an
// equipment type has no label row or the row's values are empty.
const (
	DefaultSpec2Label = "Specifications 2"
	DefaultSpec3Label = "Specifications 3"
)

// User is a technician eligible to file submissions.
type User struct {
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
}

// EquipmentType pairs an equipment type with the manufacturer offering it.
type EquipmentType struct {
	Manufacturer string `yaml:"manufacturer" json:"manufacturer"`
	Name         string `yaml:"name" json:"name"`
}

// ModelSpec is one model row: the model designation plus one pair of
// specification values. A model may appear in several rows when multiple
// specification combinations exist for it; the first row supplies the
// default pair.
type ModelSpec struct {
	Manufacturer  string `yaml:"manufacturer" json:"manufacturer"`
	EquipmentType string `yaml:"equipment_type" json:"equipment_type"`
	Model         string `yaml:"model" json:"model"`
	Spec2         string `yaml:"spec2" json:"spec2"`
	Spec3         string `yaml:"spec3" json:"spec3"`
}

// SpecLabels carries the display labels for the two specification fields of
// one equipment type.
type SpecLabels struct {
	EquipmentType string `yaml:"equipment_type" json:"equipment_type"`
	Label2        string `yaml:"label2" json:"label2"`
	Label3        string `yaml:"label3" json:"label3"`
}

// Catalog is an immutable snapshot of the reference data. Accessors mirror
// the cascading form selections: manufacturer, then equipment type, then
// model, then specification values.
type Catalog struct {
	Users          []User          `yaml:"users" json:"users"`
	Manufacturers  []string        `yaml:"manufacturers" json:"manufacturers"`
	EquipmentTypes []EquipmentType `yaml:"equipment_types" json:"equipment_types"`
	Models         []ModelSpec     `yaml:"models" json:"models"`
	SpecLabels     []SpecLabels    `yaml:"spec_labels" json:"spec_labels"`
}

// UserNames returns the sorted list of distinct technician names.
func (c *Catalog) UserNames() []string {
	names := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		if u.Name != "" {
			names = append(names, u.Name)
		}
	}
	return distinctSorted(names)
}

// RoleFor returns the role recorded for the named technician.
// The second return value is false when the name is not in the catalog.
func (c *Catalog) RoleFor(name string) (string, bool) {
	for _, u := range c.Users {
		if u.Name == name {
			return u.Role, true
		}
	}
	return "", false
}

// ManufacturerNames returns the sorted list of distinct manufacturers.
func (c *Catalog) ManufacturerNames() []string {
	return distinctSorted(c.Manufacturers)
}

// EquipmentTypesFor returns the sorted distinct equipment types offered by
// the given manufacturer.
func (c *Catalog) EquipmentTypesFor(manufacturer string) []string {
	var names []string
	for _, et := range c.EquipmentTypes {
		if et.Manufacturer == manufacturer && et.Name != "" {
			names = append(names, et.Name)
		}
	}
	return distinctSorted(names)
}

// ModelsFor returns the sorted distinct model designations for the given
// manufacturer and equipment type.
func (c *Catalog) ModelsFor(manufacturer, equipmentType string) []string {
	var names []string
	for _, m := range c.Models {
		if m.Manufacturer == manufacturer && m.EquipmentType == equipmentType && m.Model != "" {
			names = append(names, m.Model)
		}
	}
	return distinctSorted(names)
}

// SpecOptions returns the sorted distinct non-empty specification values
// available across all models of the given manufacturer and equipment type.
// The first slice holds Specifications2 values, the second Specifications3.
func (c *Catalog) SpecOptions(manufacturer, equipmentType string) (spec2, spec3 []string) {
	for _, m := range c.Models {
		if m.Manufacturer != manufacturer || m.EquipmentType != equipmentType {
			continue
		}
		if m.Spec2 != "" {
			spec2 = append(spec2, m.Spec2)
		}
		if m.Spec3 != "" {
			spec3 = append(spec3, m.Spec3)
		}
	}
	return distinctSorted(spec2), distinctSorted(spec3)
}

// DefaultSpecs returns the specification pair of the first row matching the
// given model, used to preselect values after a model is chosen. The third
// return value is false when the model has no rows.
func (c *Catalog) DefaultSpecs(manufacturer, equipmentType, model string) (spec2, spec3 string, ok bool) {
	for _, m := range c.Models {
		if m.Manufacturer == manufacturer && m.EquipmentType == equipmentType && m.Model == model {
			return m.Spec2, m.Spec3, true
		}
	}
	return "", "", false
}

// LabelsFor returns the display labels for the two specification fields of
// the given equipment type. Missing rows and empty values fall back to
// [DefaultSpec2Label] and [DefaultSpec3Label].
func (c *Catalog) LabelsFor(equipmentType string) (label2, label3 string) {
	label2, label3 = DefaultSpec2Label, DefaultSpec3Label
	for _, sl := range c.SpecLabels {
		if sl.EquipmentType != equipmentType {
			continue
		}
		if sl.Label2 != "" {
			label2 = sl.Label2
		}
		if sl.Label3 != "" {
			label3 = sl.Label3
		}
		return label2, label3
	}
	return label2, label3
}

// Vocabulary returns the distinct manufacturer, equipment type, and model
// names in the catalog. It feeds the transcript correction pipeline so that
// misheard technical terms can be aligned with their canonical spelling.
func (c *Catalog) Vocabulary() []string {
	var terms []string
	terms = append(terms, c.Manufacturers...)
	for _, et := range c.EquipmentTypes {
		terms = append(terms, et.Name)
	}
	for _, m := range c.Models {
		terms = append(terms, m.Model)
	}
	var nonEmpty []string
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	return distinctSorted(nonEmpty)
}

// Fingerprint returns a stable hash of the snapshot contents, used by the
// [Refresher] to detect catalog changes between loads.
func (c *Catalog) Fingerprint() string {
	h := sha256.New()
	for _, u := range c.Users {
		fmt.Fprintf(h, "u|%s|%s\n", u.Name, u.Role)
	}
	for _, m := range c.Manufacturers {
		fmt.Fprintf(h, "m|%s\n", m)
	}
	for _, et := range c.EquipmentTypes {
		fmt.Fprintf(h, "e|%s|%s\n", et.Manufacturer, et.Name)
	}
	for _, m := range c.Models {
		fmt.Fprintf(h, "o|%s|%s|%s|%s|%s\n", m.Manufacturer, m.EquipmentType, m.Model, m.Spec2, m.Spec3)
	}
	for _, sl := range c.SpecLabels {
		fmt.Fprintf(h, "l|%s|%s|%s\n", sl.EquipmentType, sl.Label2, sl.Label3)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// distinctSorted deduplicates values and returns them in ascending order.
// The input slice is not modified. An empty input yields an empty
// (non-nil) slice so JSON encodings stay stable.
func distinctSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
