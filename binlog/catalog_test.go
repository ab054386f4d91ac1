package binlog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func longMap(id uint64, db, table string, n int) *TableMapEntry {
	e := &TableMapEntry{ID: id, Database: db, Table: table}
	for i := 0; i < n; i++ {
		e.Types = append(e.Types, TypeLong)
		e.Meta = append(e.Meta, nil)
		e.Nullable = append(e.Nullable, true)
		e.Unsigned = append(e.Unsigned, false)
	}
	return e
}

func TestCatalog_Versions(t *testing.T) {
	c := NewCatalog()
	v1, err := c.CreateTable("CREATE TABLE t (a INT)", "db", "0-1-1")
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)
	require.Equal(t, "0-1-1", v1.GTID)

	// unwritten versions are replaced in place
	v1b, err := c.AlterTable("ALTER TABLE t ADD b INT", "db", "0-1-2")
	require.NoError(t, err)
	require.Equal(t, 1, v1b.Version)
	require.Equal(t, []string{"a"}, v1.ColumnNames(), "published definitions are not modified")

	require.True(t, c.MarkWritten(v1b))
	require.False(t, c.MarkWritten(v1b))
	require.False(t, v1b.Written)
	require.True(t, c.Definition("db", "t").Written)

	v2, err := c.AlterTable("ALTER TABLE t ADD c INT", "db", "0-1-3")
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
	require.False(t, v2.Written)
	require.Equal(t, []string{"a", "b", "c"}, v2.ColumnNames())

	// same columns keep the definition
	same, err := c.CreateTable("CREATE TABLE IF NOT EXISTS t (a INT, b INT, c INT)", "db", "0-1-4")
	require.NoError(t, err)
	require.Same(t, v2, same)
}

func TestCatalog_CreateLike(t *testing.T) {
	c := NewCatalog()
	_, err := c.CreateTable("CREATE TABLE t2 LIKE t1", "db", "")
	require.True(t, errors.Is(err, ErrNoDefinition), "%v", err)

	_, err = c.CreateTable("CREATE TABLE t1 (a INT, s VARCHAR(5))", "db", "")
	require.NoError(t, err)
	def, err := c.CreateTable("CREATE TABLE t2 LIKE t1", "db", "")
	require.NoError(t, err)
	require.Equal(t, "db.t2", def.Ident())
	require.Equal(t, []string{"a", "s"}, def.ColumnNames())
}

func TestCatalog_AlterRename(t *testing.T) {
	c := NewCatalog()
	_, err := c.AlterTable("ALTER TABLE t ADD b INT", "db", "")
	require.True(t, errors.Is(err, ErrNoDefinition), "%v", err)

	_, err = c.CreateTable("CREATE TABLE t (a INT)", "db", "")
	require.NoError(t, err)
	def, err := c.AlterTable("ALTER TABLE t RENAME TO u", "db", "")
	require.NoError(t, err)
	require.Equal(t, "db.u", def.Ident())
	require.Nil(t, c.Definition("db", "t"))
	require.Len(t, c.Definitions(), 1)
}

func TestCatalog_TableMap(t *testing.T) {
	c := NewCatalog()
	_, err := c.CreateTable("CREATE TABLE t1 (a INT)", "db", "")
	require.NoError(t, err)
	_, err = c.CreateTable("CREATE TABLE t2 (a INT, b INT)", "db", "")
	require.NoError(t, err)

	_, _, err = c.Lookup(7)
	require.True(t, errors.Is(err, ErrNoTableMap), "%v", err)

	m1 := c.TableMap(longMap(7, "db", "t1", 1))
	e, def, err := c.Lookup(7)
	require.NoError(t, err)
	require.Same(t, m1, e)
	require.Equal(t, "db.t1", def.Ident())

	// an identical map keeps the entry
	require.Same(t, m1, c.TableMap(longMap(7, "db", "t1", 1)))

	// id reuse for another table replaces it
	m2 := c.TableMap(longMap(7, "db", "t2", 2))
	require.NotSame(t, m1, m2)
	_, def, err = c.Lookup(7)
	require.NoError(t, err)
	require.Equal(t, "db.t2", def.Ident())

	// a new version replaces it too
	require.True(t, c.MarkWritten(def))
	_, err = c.AlterTable("ALTER TABLE t2 MODIFY b BIGINT", "db", "")
	require.NoError(t, err)
	m3 := c.TableMap(longMap(7, "db", "t2", 2))
	require.NotSame(t, m2, m3)
	require.Equal(t, 2, m3.Version)

	c.TableMap(longMap(8, "db", "t1", 3))
	_, _, err = c.Lookup(8)
	require.True(t, errors.Is(err, ErrColumnMismatch), "%v", err)

	c.TableMap(longMap(9, "db", "missing", 1))
	_, _, err = c.Lookup(9)
	require.True(t, errors.Is(err, ErrNoDefinition), "%v", err)

	c.ResetTableMaps()
	_, _, err = c.Lookup(7)
	require.True(t, errors.Is(err, ErrNoTableMap), "%v", err)
}

func TestCatalog_TableMapWithNames(t *testing.T) {
	c := NewCatalog()
	e := longMap(7, "db", "t", 2)
	e.Names = []string{"id", "n"}
	e.GTID = "0-1-5"
	c.TableMap(e)
	_, def, err := c.Lookup(7)
	require.NoError(t, err)
	require.Equal(t, []ColumnDef{{Name: "id", Type: "long"}, {Name: "n", Type: "long"}}, def.Columns)
	require.Equal(t, "0-1-5", def.GTID)
}

func TestCatalog_SaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), CatalogFile)
	c, err := LoadCatalog(file)
	require.NoError(t, err)
	require.Empty(t, c.Definitions())

	_, err = c.CreateTable("CREATE TABLE t1 (a INT, e ENUM('x','y'))", "db", "0-1-1")
	require.NoError(t, err)
	def := c.Define("other", "t2", cols("id", "BIGINT"))
	require.True(t, c.MarkWritten(def))
	require.NoError(t, c.Save(file))

	loaded, err := LoadCatalog(file)
	require.NoError(t, err)
	require.Equal(t, c.Definitions(), loaded.Definitions())
}
