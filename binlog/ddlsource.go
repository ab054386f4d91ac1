package binlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
)

// DDLSource reads table definitions from a running server. It seeds the
// catalog with tables created before the first converted binlog file.
type DDLSource struct {
	db  *sql.DB
	cfg *mysql.Config
}

// OpenDDLSource opens a connection pool for a go-sql-driver DSN such as
// user:password@tcp(host:3306)/.
func OpenDDLSource(dsn string) (*DDLSource, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return &DDLSource{db: sql.OpenDB(connector), cfg: cfg}, nil
}

func (s *DDLSource) Close() error {
	return s.db.Close()
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Databases returns the user databases of the server.
func (s *DDLSource) Databases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dbs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		switch strings.ToLower(name) {
		case "mysql", "information_schema", "performance_schema", "sys":
			continue
		}
		dbs = append(dbs, name)
	}
	return dbs, rows.Err()
}

// Tables returns the base tables of database.
func (s *DDLSource) Tables(ctx context.Context, database string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW FULL TABLES FROM "+quoteIdent(database)+" WHERE Table_type = 'BASE TABLE'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// CreateStatement returns the CREATE TABLE statement of a table.
func (s *DDLSource) CreateStatement(ctx context.Context, database, table string) (string, error) {
	var name, stmt string
	row := s.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoteIdent(database)+"."+quoteIdent(table))
	if err := row.Scan(&name, &stmt); err != nil {
		return "", fmt.Errorf("SHOW CREATE TABLE %s.%s: %w", database, table, err)
	}
	return stmt, nil
}

// Seed defines the tables of databases that c does not know yet. All
// user databases are used when none are given. It returns the number of
// tables defined.
func (s *DDLSource) Seed(ctx context.Context, c *Catalog, databases ...string) (int, error) {
	if len(databases) == 0 {
		var err error
		if databases, err = s.Databases(ctx); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, database := range databases {
		tables, err := s.Tables(ctx, database)
		if err != nil {
			return n, err
		}
		for _, table := range tables {
			if c.Definition(database, table) != nil {
				continue
			}
			stmt, err := s.CreateStatement(ctx, database, table)
			if err != nil {
				return n, err
			}
			def, err := c.CreateTable(stmt, database, "")
			if err != nil {
				log.WithError(err).WithField("table", database+"."+table).Warn("cannot seed table definition")
				continue
			}
			log.WithFields(log.Fields{"table": def.Ident(), "addr": s.cfg.Addr}).Debug("seeded table definition")
			n++
		}
	}
	return n, nil
}
