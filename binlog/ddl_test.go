package binlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func cols(nameTypes ...string) []ColumnDef {
	var c []ColumnDef
	for i := 0; i < len(nameTypes); i += 2 {
		c = append(c, ColumnDef{Name: nameTypes[i], Type: nameTypes[i+1]})
	}
	return c
}

func TestIsCreateAlterTable(t *testing.T) {
	testCases := []struct {
		sql           string
		create, alter bool
	}{
		{"CREATE TABLE t1 (a int)", true, false},
		{"  create temporary table t1 (a int)", true, false},
		{"CREATE OR REPLACE TABLE t1 (a int)", true, false},
		{"/* comment */ CREATE TABLE t1 (a int)", true, false},
		{"CREATE TABLESPACE ts1", false, false},
		{"CREATE INDEX i ON t1 (a)", false, false},
		{"ALTER TABLE t1 ADD b int", false, true},
		{"ALTER ONLINE TABLE t1 ADD b int", false, true},
		{"ALTER IGNORE TABLE t1 ADD b int", false, true},
		{"ALTER TABLESPACE ts1", false, false},
		{"INSERT INTO t1 VALUES ('CREATE TABLE t2 (a int)')", false, false},
		{"-- CREATE TABLE t1 (a int)\nSELECT 1", false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.sql, func(t *testing.T) {
			require.Equal(t, tc.create, isCreateTable(tc.sql))
			require.Equal(t, tc.alter, isAlterTable(tc.sql))
		})
	}
}

func TestTokenize(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
	}{
		{"a int, b decimal(10,2)", []string{"a", "int", ",", "b", "decimal(10,2)"}},
		{"t(a int)", []string{"t(a int)"}},
		{"`t`(a int)", []string{"`t`", "(a int)"}},
		{"s varchar(10) default 'x, y'", []string{"s", "varchar(10)", "default", "'x, y'"}},
		{"e enum('a','b)')", []string{"e", "enum('a','b)')"}},
		{"`a b` int", []string{"`a b`", "int"}},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			require.Equal(t, tc.want, tokenize(tc.in))
		})
	}
}

func TestStripComments(t *testing.T) {
	require.Equal(t, "CREATE   TABLE t (a int)", stripComments("CREATE /* x */ TABLE t (a int)"))
	require.Equal(t, "SELECT '/* x */'", stripComments("SELECT '/* x */'"))
	require.Equal(t, "a   b", stripComments("a -- c\n b"))
	require.Equal(t, "a ", stripComments("a # c"))
}

func TestParseSymbols(t *testing.T) {
	require.Equal(t, []string{"a", "b c", "it's"}, parseSymbols("enum('a','b c','it''s')"))
	require.Equal(t, []string{"x", "y"}, parseSymbols(`SET("x","y")`))
	require.Nil(t, parseSymbols("varchar(10)"))
	require.Nil(t, parseSymbols("int"))
}

func TestParseCreateTable(t *testing.T) {
	testCases := []struct {
		sql       string
		db, table string
		columns   []ColumnDef
	}{
		{
			sql: "CREATE TABLE db.t1 (id INT, name VARCHAR(64))",
			db:  "db", table: "t1",
			columns: cols("id", "INT", "name", "VARCHAR(64)"),
		},
		{
			sql: "create table t(a int)",
			db:  "test", table: "t",
			columns: cols("a", "int"),
		},
		{
			sql: "CREATE TABLE IF NOT EXISTS `my db`.`t 1` (\n  `id` int NOT NULL AUTO_INCREMENT,\n  `v` decimal(10,2) DEFAULT NULL,\n  PRIMARY KEY (`id`),\n  KEY `v` (`v`)\n) ENGINE=InnoDB",
			db:  "my db", table: "t 1",
			columns: cols("id", "int NOT NULL AUTO_INCREMENT", "v", "decimal(10,2) DEFAULT NULL"),
		},
		{
			sql: "CREATE TEMPORARY TABLE t2 (e ENUM('a','b'), CONSTRAINT c CHECK (e <> 'a'))",
			db:  "test", table: "t2",
			columns: []ColumnDef{{Name: "e", Type: "ENUM('a','b')", Symbols: []string{"a", "b"}}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.sql, func(t *testing.T) {
			ct, err := parseCreateTable(tc.sql, "test")
			require.NoError(t, err)
			require.Equal(t, tc.db, ct.db)
			require.Equal(t, tc.table, ct.table)
			require.Equal(t, tc.columns, ct.columns)
		})
	}
}

func TestParseCreateTable_Like(t *testing.T) {
	ct, err := parseCreateTable("CREATE TABLE t2 LIKE other.t1", "db")
	require.NoError(t, err)
	require.Equal(t, "db", ct.db)
	require.Equal(t, "t2", ct.table)
	require.Equal(t, "other", ct.likeDB)
	require.Equal(t, "t1", ct.likeTable)

	ct, err = parseCreateTable("CREATE TABLE t2 (LIKE t1)", "db")
	require.NoError(t, err)
	require.Equal(t, "db", ct.likeDB)
	require.Equal(t, "t1", ct.likeTable)
}

func TestParseCreateTable_Malformed(t *testing.T) {
	for _, sql := range []string{
		"CREATE TABLE",
		"CREATE TABLE t",
		"CREATE TABLE t (PRIMARY KEY (a))",
		"CREATE TABLE t AS SELECT 1",
		"DROP TABLE t",
	} {
		t.Run(sql, func(t *testing.T) {
			_, err := parseCreateTable(sql, "db")
			require.True(t, errors.Is(err, ErrMalformedDDL), "%v", err)
		})
	}
}

func TestAlterTable_Apply(t *testing.T) {
	base := cols("id", "INT", "name", "VARCHAR(64)")
	testCases := []struct {
		sql       string
		want      []ColumnDef
		db, table string
	}{
		{"ALTER TABLE t1 ADD COLUMN age INT", cols("id", "INT", "name", "VARCHAR(64)", "age", "INT"), "db", "t1"},
		{"ALTER TABLE t1 ADD age INT FIRST", cols("age", "INT", "id", "INT", "name", "VARCHAR(64)"), "db", "t1"},
		{"ALTER TABLE t1 ADD COLUMN IF NOT EXISTS age INT AFTER id", cols("id", "INT", "age", "INT", "name", "VARCHAR(64)"), "db", "t1"},
		{"ALTER TABLE t1 ADD (a INT, b INT)", cols("id", "INT", "name", "VARCHAR(64)", "a", "INT", "b", "INT"), "db", "t1"},
		{"ALTER TABLE t1 ADD INDEX i (name), ADD UNIQUE KEY (id)", base, "db", "t1"},
		{"ALTER TABLE t1 DROP COLUMN name", cols("id", "INT"), "db", "t1"},
		{"ALTER TABLE t1 DROP `name`, DROP PRIMARY KEY", cols("id", "INT"), "db", "t1"},
		{"ALTER TABLE t1 CHANGE name full_name TEXT", cols("id", "INT", "full_name", "TEXT"), "db", "t1"},
		{"ALTER TABLE t1 MODIFY COLUMN name TEXT FIRST", cols("name", "TEXT", "id", "INT"), "db", "t1"},
		{"ALTER TABLE t1 RENAME COLUMN id TO pk", cols("pk", "INT", "name", "VARCHAR(64)"), "db", "t1"},
		{"ALTER TABLE t1 RENAME TO other.t2", base, "other", "t2"},
		{"ALTER TABLE db.t1 RENAME AS t3", base, "db", "t3"},
		{"ALTER TABLE t1 RENAME INDEX a TO b", base, "db", "t1"},
		{"ALTER TABLE t1 ENGINE=InnoDB", base, "db", "t1"},
	}
	for _, tc := range testCases {
		t.Run(tc.sql, func(t *testing.T) {
			at, err := parseAlterTable(tc.sql, "db")
			require.NoError(t, err)
			got, db, table, err := at.apply(base)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.db, db)
			require.Equal(t, tc.table, table)
		})
	}
	// base is not modified
	require.Equal(t, cols("id", "INT", "name", "VARCHAR(64)"), base)
}

func TestAlterTable_Malformed(t *testing.T) {
	for _, sql := range []string{
		"ALTER TABLE t1 DROP COLUMN missing",
		"ALTER TABLE t1 CHANGE missing x INT",
		"ALTER TABLE t1 RENAME COLUMN missing TO x",
		"ALTER TABLE t1 ADD COLUMN",
	} {
		t.Run(sql, func(t *testing.T) {
			at, err := parseAlterTable(sql, "db")
			require.NoError(t, err)
			_, _, _, err = at.apply(cols("id", "INT"))
			require.True(t, errors.Is(err, ErrMalformedDDL), "%v", err)
		})
	}
	_, err := parseAlterTable("ALTER TABLE", "db")
	require.True(t, errors.Is(err, ErrMalformedDDL), "%v", err)
}
