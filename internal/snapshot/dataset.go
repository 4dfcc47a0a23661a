package snapshot

import (
	"fmt"
	"regexp"
	"strings"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quote(name string) string {
	return `"` + name + `"`
}

// Column is a column of a dataset's table.
type Column struct {
	Name string
	// Decl is everything after the column name in the column definition,
	// ex. "INTEGER NOT NULL".
	Decl string
}

// Index is a secondary index created on the staging table before it is published.
type Index struct {
	// Name is a short suffix, the full index name is derived from the dataset name.
	Name    string
	Columns []string
}

// Dataset describes a live table that is replaced wholesale on every refresh.
// Its DDL is generated from this description, so the staging table is always
// schema-identical to the live one.
type Dataset struct {
	// Name is the live table name, the staging table is Name + "_temp".
	Name    string
	Columns []Column
	// Key is the natural key of a record, rows re-delivered with the same key
	// replace each other.
	Key     []string
	Indexes []Index
}

// StagingName is the name of the private table a refresh accumulates rows in.
func (d Dataset) StagingName() string {
	return d.Name + "_temp"
}

func (d Dataset) hasColumn(name string) bool {
	for _, c := range d.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Validate checks that the dataset can be turned into DDL.
func (d Dataset) Validate() error {
	if !identifier.MatchString(d.Name) {
		return fmt.Errorf("invalid dataset name %q", d.Name)
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("dataset %s has no columns", d.Name)
	}
	seen := map[string]bool{}
	for _, c := range d.Columns {
		if !identifier.MatchString(c.Name) {
			return fmt.Errorf("dataset %s: invalid column name %q", d.Name, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("dataset %s: duplicate column %s", d.Name, c.Name)
		}
		seen[c.Name] = true
	}
	if len(d.Key) == 0 {
		return fmt.Errorf("dataset %s has no key", d.Name)
	}
	for _, k := range d.Key {
		if !d.hasColumn(k) {
			return fmt.Errorf("dataset %s: key column %s is not a column", d.Name, k)
		}
	}
	for _, idx := range d.Indexes {
		if !identifier.MatchString(idx.Name) {
			return fmt.Errorf("dataset %s: invalid index name %q", d.Name, idx.Name)
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("dataset %s: index %s has no columns", d.Name, idx.Name)
		}
		for _, c := range idx.Columns {
			if !d.hasColumn(c) {
				return fmt.Errorf("dataset %s: index %s references unknown column %s", d.Name, idx.Name, c)
			}
		}
	}
	return nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

func (d Dataset) columnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateTableSQL renders the CREATE TABLE statement of the dataset under the given table name.
func (d Dataset) CreateTableSQL(table string) string {
	var out strings.Builder
	fmt.Fprintf(&out, "CREATE TABLE %s (\n", quote(table))
	for _, c := range d.Columns {
		fmt.Fprintf(&out, "    %s %s,\n", quote(c.Name), c.Decl)
	}
	fmt.Fprintf(&out, "    PRIMARY KEY (%s)\n)", quoteAll(d.Key))
	return out.String()
}

// indexName is the full name of an index, there are two slots per index so the
// staging table's index never collides with the live table's.
func (d Dataset) indexName(idx Index, alternate bool) string {
	name := fmt.Sprintf("idx_%s_%s", d.Name, idx.Name)
	if alternate {
		name += "_b"
	}
	return name
}

func createIndexSQL(name, table string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", quote(name), quote(table), quoteAll(columns))
}

// insertSQL is an upsert keyed by the natural key, so a record delivered twice
// leaves exactly one row holding the values inserted last.
func (d Dataset) insertSQL(table string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(d.Columns)), ", ")
	return fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quote(table),
		quoteAll(d.columnNames()),
		placeholders,
	)
}
