package binlog

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// test flags ---

var (
	mysqlFlag = flag.String("mysql", "", "mysql server used for testing")
	testDB    = "binlog"
	dsn       string

	skipReason = `SKIPPED: pass -mysql flag to run this test
example: go test -mysql tcp:localhost:3306,user=root,password=password,db=binlog
`
)

func TestMain(m *testing.M) {
	flag.Parse()
	if *mysqlFlag != "" {
		colon := strings.IndexByte(*mysqlFlag, ':')
		network, address := (*mysqlFlag)[:colon], (*mysqlFlag)[colon+1:]
		tok := strings.Split(address, ",")
		address = tok[0]
		var user, passwd string
		for _, t := range tok[1:] {
			switch {
			case strings.HasPrefix(t, "user="):
				user = strings.TrimPrefix(t, "user=")
			case strings.HasPrefix(t, "password="):
				passwd = strings.TrimPrefix(t, "password=")
			case strings.HasPrefix(t, "db="):
				testDB = strings.TrimPrefix(t, "db=")
			}
		}
		dsn = fmt.Sprintf("%s:%s@%s(%s)/%s", user, passwd, network, address, testDB)
	}
	os.Exit(m.Run())
}

func TestDDLSource_Seed(t *testing.T) {
	if *mysqlFlag == "" {
		t.Skip(skipReason)
	}
	ctx := context.Background()
	src, err := OpenDDLSource(dsn)
	require.NoError(t, err)
	defer src.Close()

	for _, stmt := range []string{
		"DROP TABLE IF EXISTS seed_table",
		"CREATE TABLE seed_table (id INT NOT NULL, name VARCHAR(32), size ENUM('s','m','l'), PRIMARY KEY (id))",
	} {
		_, err := src.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	dbs, err := src.Databases(ctx)
	require.NoError(t, err)
	require.Contains(t, dbs, testDB)
	require.NotContains(t, dbs, "information_schema")

	tables, err := src.Tables(ctx, testDB)
	require.NoError(t, err)
	require.Contains(t, tables, "seed_table")

	c := NewCatalog()
	n, err := src.Seed(ctx, c, testDB)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)
	def := c.Definition(testDB, "seed_table")
	require.NotNil(t, def)
	require.Equal(t, []string{"id", "name", "size"}, def.ColumnNames())
	require.Equal(t, []string{"s", "m", "l"}, def.Columns[2].Symbols)

	// known tables are left alone
	n, err = src.Seed(ctx, c, testDB)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Same(t, def, c.Definition(testDB, "seed_table"))
}
