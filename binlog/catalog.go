package binlog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/segmentio/encoding/json"
)

// TableDefinition is the column list of a table as known from DDL. A
// definition is never modified once published; changes replace it.
type TableDefinition struct {
	Database string      `json:"database"`
	Table    string      `json:"table"`
	Columns  []ColumnDef `json:"columns"`
	Version  int         `json:"version"`
	Written  bool        `json:"written"` // rows were written with this version
	GTID     string      `json:"gtid,omitempty"`
}

func (d *TableDefinition) Ident() string {
	return d.Database + "." + d.Table
}

func (d *TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		names[i] = col.Name
	}
	return names
}

func sameColumns(a, b []ColumnDef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

// Catalog tracks table definitions by name and table map entries by
// table id. It is safe for concurrent use; the lock is held only while
// the maps are accessed.
type Catalog struct {
	mu   sync.Mutex
	defs map[string]*TableDefinition
	maps map[uint64]*TableMapEntry
}

func NewCatalog() *Catalog {
	return &Catalog{
		defs: make(map[string]*TableDefinition),
		maps: make(map[uint64]*TableMapEntry),
	}
}

func (c *Catalog) Definition(db, table string) *TableDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defs[db+"."+table]
}

// Definitions returns all definitions ordered by name.
func (c *Catalog) Definitions() []*TableDefinition {
	c.mu.Lock()
	defs := make([]*TableDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		defs = append(defs, d)
	}
	c.mu.Unlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Ident() < defs[j].Ident() })
	return defs
}

// define installs cols as the definition of db.table. An existing
// definition keeps its version unless it was written and the columns
// changed.
func (c *Catalog) define(db, table string, cols []ColumnDef, gtid string) *TableDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defineLocked(db, table, cols, gtid)
}

func (c *Catalog) defineLocked(db, table string, cols []ColumnDef, gtid string) *TableDefinition {
	def := &TableDefinition{Database: db, Table: table, Columns: cols, Version: 1, GTID: gtid}
	if old, ok := c.defs[def.Ident()]; ok {
		switch {
		case sameColumns(old.Columns, cols):
			return old
		case old.Written:
			def.Version = old.Version + 1
		default:
			def.Version = old.Version
		}
	}
	c.defs[def.Ident()] = def
	return def
}

// Define installs a definition obtained outside the binlog stream, such
// as SHOW CREATE TABLE.
func (c *Catalog) Define(db, table string, cols []ColumnDef) *TableDefinition {
	return c.define(db, table, cols, "")
}

// CreateTable applies a CREATE TABLE statement.
func (c *Catalog) CreateTable(sql, defaultDB, gtid string) (*TableDefinition, error) {
	ct, err := parseCreateTable(sql, defaultDB)
	if err != nil {
		return nil, err
	}
	cols := ct.columns
	if ct.likeTable != "" {
		like := c.Definition(ct.likeDB, ct.likeTable)
		if like == nil {
			return nil, fmt.Errorf("%w: %s.%s for CREATE TABLE %s.%s LIKE", ErrNoDefinition, ct.likeDB, ct.likeTable, ct.db, ct.table)
		}
		cols = append([]ColumnDef(nil), like.Columns...)
	}
	return c.define(ct.db, ct.table, cols, gtid), nil
}

// AlterTable applies an ALTER TABLE statement to the definition of the
// table. The version changes only if the previous version was written.
func (c *Catalog) AlterTable(sql, defaultDB, gtid string) (*TableDefinition, error) {
	at, err := parseAlterTable(sql, defaultDB)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.defs[at.db+"."+at.table]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s for ALTER TABLE", ErrNoDefinition, at.db, at.table)
	}
	cols, db, table, err := at.apply(old.Columns)
	if err != nil {
		return nil, fmt.Errorf("ALTER TABLE %s: %w", old.Ident(), err)
	}
	if db != old.Database || table != old.Table {
		delete(c.defs, old.Ident())
	}
	return c.defineLocked(db, table, cols, gtid), nil
}

// MarkWritten records that rows were written with def. It returns
// false if def was already marked.
func (c *Catalog) MarkWritten(def *TableDefinition) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.defs[def.Ident()]
	if cur == nil || cur.Version != def.Version || cur.Written {
		return false
	}
	d := *cur
	d.Written = true
	c.defs[d.Ident()] = &d
	return true
}

// TableMap installs a table map entry. An entry already stored under
// the same id is replaced when its column types or the definition
// version it was matched with differ. If no definition is known but the
// event carries column names, one is built from them.
func (c *Catalog) TableMap(e *TableMapEntry) *TableMapEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	def := c.defs[e.Ident()]
	if def == nil && len(e.Names) == len(e.Types) && len(e.Names) > 0 {
		cols := make([]ColumnDef, len(e.Names))
		for i, name := range e.Names {
			cols[i] = ColumnDef{Name: name, Type: e.Types[i].String()}
		}
		def = c.defineLocked(e.Database, e.Table, cols, e.GTID)
	}
	if def != nil {
		e.Version = def.Version
	}
	if old, ok := c.maps[e.ID]; ok && old.Ident() == e.Ident() && old.Version == e.Version && old.sameLayout(e) {
		old.GTID = e.GTID
		return old
	}
	c.maps[e.ID] = e
	return e
}

// Lookup returns the table map entry of a rows event and the definition
// its rows are decoded with.
func (c *Catalog) Lookup(id uint64) (*TableMapEntry, *TableDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.maps[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrNoTableMap, id)
	}
	def := c.defs[e.Ident()]
	if def == nil {
		return e, nil, fmt.Errorf("%w: %s", ErrNoDefinition, e.Ident())
	}
	if len(def.Columns) != len(e.Types) {
		return e, def, fmt.Errorf("%w: %s has %d columns in table map, %d in version %d",
			ErrColumnMismatch, e.Ident(), len(e.Types), len(def.Columns), def.Version)
	}
	return e, def, nil
}

// ResetTableMaps forgets all table ids. Ids are scoped to a binlog file
// and a server restart.
func (c *Catalog) ResetTableMaps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maps = make(map[uint64]*TableMapEntry)
}

type catalogSnapshot struct {
	Tables []*TableDefinition `json:"tables"`
}

// Save writes the definitions to file atomically.
func (c *Catalog) Save(file string) error {
	b, err := json.Marshal(catalogSnapshot{Tables: c.Definitions()})
	if err != nil {
		return err
	}
	return writeFileAtomic(file, b)
}

// LoadCatalog reads a catalog saved with Save. A missing file yields an
// empty catalog.
func LoadCatalog(file string) (*Catalog, error) {
	c := NewCatalog()
	b, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	var snap catalogSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("binlog.LoadCatalog %s: %w", file, err)
	}
	for _, d := range snap.Tables {
		c.defs[d.Ident()] = d
	}
	return c, nil
}
