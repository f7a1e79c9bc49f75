package asset

// FieldDef describes one payload field known to the system. Compound
// fields nest further definitions; file fields hold storage
// references instead of literal values.
type FieldDef struct {
	ID       int64
	Sysname  string
	Title    string
	Type     string
	IsFile   bool
	Children []FieldDef
}

// Catalog indexes field definitions for lookups during payload
// mutation and display. It satisfies the mutator's field catalog
// interface.
type Catalog struct {
	byName map[string]FieldDef
}

// NewCatalog builds a catalog from field definitions.
func NewCatalog(defs []FieldDef) *Catalog {
	byName := make(map[string]FieldDef, len(defs))
	for _, def := range defs {
		byName[def.Sysname] = def
	}
	return &Catalog{byName: byName}
}

// Lookup returns the definition for a field sysname.
func (c *Catalog) Lookup(sysname string) (FieldDef, bool) {
	def, ok := c.byName[sysname]
	return def, ok
}

// IsFile reports whether the field holds file references.
func (c *Catalog) IsFile(field string) bool {
	return c.byName[field].IsFile
}

// FileChildren returns the file-typed sub-fields of a compound field.
func (c *Catalog) FileChildren(field string) []string {
	def, ok := c.byName[field]
	if !ok {
		return nil
	}
	var out []string
	for _, child := range def.Children {
		if child.IsFile {
			out = append(out, child.Sysname)
		}
	}
	return out
}
