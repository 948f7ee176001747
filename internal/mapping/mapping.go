// Package mapping holds the column mapping table: for each report category
// and sheet kind, which verbatim header text feeds which destination field
// and through which transform.
package mapping

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"ClaimSync/internal/models"
	"ClaimSync/internal/workbook"
)

//go:embed default_mapping.yaml
var defaultMapping []byte

// SheetMain is the kind of the primary sheet of every category.
const SheetMain = "main"

type document struct {
	Version    int                    `yaml:"version"`
	Templates  map[string]categoryDoc `yaml:"templates"`
	Categories map[string]categoryDoc `yaml:"categories"`
}

type categoryDoc struct {
	Extends string     `yaml:"extends"`
	Sheets  []sheetDoc `yaml:"sheets"`
}

type sheetDoc struct {
	Kind      string     `yaml:"kind"`
	Table     string     `yaml:"table"`
	Names     []string   `yaml:"names"`
	Index     *int       `yaml:"index"`
	Anchors   []string   `yaml:"anchors"`
	HeaderRow int        `yaml:"header_row"`
	ScanRows  int        `yaml:"scan_rows"`
	Optional  bool       `yaml:"optional"`
	Fields    []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Field     string   `yaml:"field"`
	Transform string   `yaml:"transform"`
	Headers   []string `yaml:"headers"`
	MaxWidth  int      `yaml:"max_width"`
}

// ConfigError lists every problem found while validating a mapping document.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "mapping: invalid configuration:\n  " + strings.Join(e.Problems, "\n  ")
}

// Table is a validated, immutable mapping table.
type Table struct {
	Version    int
	categories map[models.Category][]*SheetSpec
}

// SheetSpec is the mapping for one sheet kind of one category.
type SheetSpec struct {
	Category models.Category
	Kind     string
	Dest     *models.TableSpec
	Layout   workbook.Layout
	Optional bool

	entries  []*entry
	byHeader map[string]*entry
}

type entry struct {
	field     models.FieldSpec
	transform models.FieldKind
	headers   []string
	maxWidth  int
}

// Default returns the embedded mapping table.
func Default() (*Table, error) {
	return Load(defaultMapping)
}

// LoadFile reads and validates a mapping document from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	return Load(data)
}

// Load parses and validates a mapping document. Any problem fails the whole load.
func Load(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mapping: parse: %w", err)
	}

	v := &validator{}
	t := &Table{Version: doc.Version, categories: map[models.Category][]*SheetSpec{}}
	if doc.Version <= 0 {
		v.addf("version must be a positive integer")
	}

	names := make([]string, 0, len(doc.Categories))
	for name := range doc.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		category := models.Category(name)
		if !category.Valid() {
			v.addf("unknown category %q", name)
			continue
		}
		sheets, err := resolve(doc, name, nil)
		if err != nil {
			v.addf("category %q: %v", name, err)
			continue
		}
		specs := make([]*SheetSpec, 0, len(sheets))
		hasMain := false
		for _, sd := range sheets {
			spec := v.compileSheet(category, sd)
			if spec == nil {
				continue
			}
			if spec.Kind == SheetMain {
				hasMain = true
			}
			specs = append(specs, spec)
		}
		if !hasMain {
			v.addf("category %q: no %q sheet", name, SheetMain)
		}
		t.categories[category] = specs
	}

	if len(v.problems) > 0 {
		return nil, &ConfigError{Problems: v.problems}
	}
	return t, nil
}

// resolve flattens an extends chain. A child sheet replaces a parent sheet of
// the same kind; new kinds are appended.
func resolve(doc document, name string, seen []string) ([]sheetDoc, error) {
	for _, s := range seen {
		if s == name {
			return nil, fmt.Errorf("extends cycle %s -> %s", strings.Join(seen, " -> "), name)
		}
	}
	cd, ok := doc.Categories[name]
	if !ok {
		cd, ok = doc.Templates[name]
	}
	if !ok {
		return nil, fmt.Errorf("extends unknown category or template %q", name)
	}
	if cd.Extends == "" {
		return cd.Sheets, nil
	}
	parent, err := resolve(doc, cd.Extends, append(seen, name))
	if err != nil {
		return nil, err
	}
	out := append([]sheetDoc(nil), parent...)
	for _, child := range cd.Sheets {
		replaced := false
		for i := range out {
			if out[i].Kind == child.Kind {
				out[i] = child
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, child)
		}
	}
	return out, nil
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) compileSheet(category models.Category, sd sheetDoc) *SheetSpec {
	where := fmt.Sprintf("%s/%s", category, sd.Kind)
	if sd.Kind == "" {
		v.addf("%s: sheet kind is required", category)
		return nil
	}
	dest, err := models.LookupTable(models.Table(sd.Table))
	if err != nil {
		v.addf("%s: %v", where, err)
		return nil
	}

	spec := &SheetSpec{
		Category: category,
		Kind:     sd.Kind,
		Dest:     dest,
		Optional: sd.Optional,
		byHeader: map[string]*entry{},
		Layout: workbook.Layout{
			Names:     sd.Names,
			Index:     -1,
			Anchors:   sd.Anchors,
			HeaderRow: sd.HeaderRow,
			ScanRows:  sd.ScanRows,
		},
	}
	if sd.Index != nil {
		spec.Layout.Index = *sd.Index
	}
	if len(sd.Names) == 0 && sd.Index == nil {
		v.addf("%s: sheet needs names or an index", where)
	}

	fields := map[string]bool{}
	for _, fd := range sd.Fields {
		fs, ok := dest.Field(fd.Field)
		if !ok {
			v.addf("%s: field %q does not exist in %s", where, fd.Field, dest.Name)
			continue
		}
		if fields[fd.Field] {
			v.addf("%s: field %q is mapped by more than one entry", where, fd.Field)
			continue
		}
		fields[fd.Field] = true

		kind := models.FieldKind(fd.Transform)
		switch {
		case kind == "" && fs.Kind == "":
			kind = models.KindText
		case kind == "":
			kind = fs.Kind
		case !knownTransform(kind):
			v.addf("%s: field %q: unknown transform %q", where, fd.Field, fd.Transform)
			continue
		case fs.Kind != "" && kind != fs.Kind:
			v.addf("%s: field %q is %s but transform is %s", where, fd.Field, fs.Kind, kind)
			continue
		}
		if len(fd.Headers) == 0 {
			v.addf("%s: field %q has no headers", where, fd.Field)
			continue
		}

		e := &entry{field: fs, transform: kind, headers: fd.Headers, maxWidth: fd.MaxWidth}
		for _, h := range fd.Headers {
			if h == "" {
				v.addf("%s: field %q has an empty header", where, fd.Field)
				continue
			}
			if prev, dup := spec.byHeader[h]; dup {
				v.addf("%s: header %q mapped to both %q and %q", where, h, prev.field.Name, fd.Field)
				continue
			}
			spec.byHeader[h] = e
		}
		spec.entries = append(spec.entries, e)
		if fs.Name == models.FieldTranID {
			spec.Layout.KeyHeaders = fd.Headers
		}
	}

	for _, req := range dest.Required() {
		if !fields[req] {
			v.addf("%s: required field %q is not mapped", where, req)
		}
	}
	if len(spec.Layout.Anchors) == 0 {
		spec.Layout.Anchors = spec.Layout.KeyHeaders
	}
	return spec
}

func knownTransform(k models.FieldKind) bool {
	switch k {
	case models.KindText, models.KindDate, models.KindAmount, models.KindCount, models.KindRatio:
		return true
	}
	return false
}

// Categories lists the categories with a mapping, sorted.
func (t *Table) Categories() []models.Category {
	out := make([]models.Category, 0, len(t.categories))
	for c := range t.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sheets returns the sheet mappings of a category, primary sheet first.
func (t *Table) Sheets(c models.Category) ([]*SheetSpec, error) {
	specs, ok := t.categories[c]
	if !ok {
		return nil, fmt.Errorf("mapping: no mapping for category %q", c)
	}
	out := append([]*SheetSpec(nil), specs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind == SheetMain && out[j].Kind != SheetMain
	})
	return out, nil
}

// Sheet returns the mapping of one sheet kind.
func (t *Table) Sheet(c models.Category, kind string) (*SheetSpec, error) {
	specs, err := t.Sheets(c)
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		if s.Kind == kind {
			return s, nil
		}
	}
	return nil, fmt.Errorf("mapping: category %q has no sheet %q", c, kind)
}

// Fields lists the destination fields mapped by this sheet.
func (s *SheetSpec) Fields() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.field.Name
	}
	return out
}
