package schema

import (
	"fmt"
	"strings"
)

// Dialect names a SQL dialect. The values double as database/sql driver names.
type Dialect string

const (
	SQLite Dialect = "sqlite3"
	MySQL  Dialect = "mysql"
)

// ParseDialect validates a driver name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case SQLite, MySQL:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unsupported dialect %q: must be %q or %q", s, SQLite, MySQL)
}

// Quote quotes an identifier for the dialect.
func (d Dialect) Quote(name string) string {
	if d == MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// mysqlTableSuffix is appended to every MySQL CREATE TABLE.
const mysqlTableSuffix = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"

// CreateTableSQL returns the CREATE TABLE statement for t.
//
// Foreign keys are declared as plain columns without REFERENCES clauses so
// tables can be created in any order.
func CreateTableSQL(t *Table, d Dialect) string {
	var defs []string
	inlineKey := false
	if gen, ok := t.GeneratedKey(); ok && gen.Kind == KindInteger {
		inlineKey = true
	}

	for _, c := range t.Columns {
		defs = append(defs, columnDef(c, d, inlineKey))
	}
	if !inlineKey {
		keys := make([]string, len(t.PrimaryKey))
		for i, k := range t.PrimaryKey {
			keys[i] = d.Quote(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.Quote(t.Name), strings.Join(defs, ",\n  "))
	if d == MySQL {
		stmt += mysqlTableSuffix
	}
	return stmt
}

// DropTableSQL returns the DROP TABLE statement for t.
func DropTableSQL(t *Table, d Dialect) string {
	return "DROP TABLE IF EXISTS " + d.Quote(t.Name)
}

func columnDef(c Column, d Dialect, inlineKey bool) string {
	var b strings.Builder
	b.WriteString(d.Quote(c.Name))
	b.WriteByte(' ')

	if inlineKey && c.PrimaryKey {
		if d == MySQL {
			b.WriteString("BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY")
		} else {
			b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		}
		return b.String()
	}

	b.WriteString(columnType(c, d))
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Kind == KindTimestamp && c.Managed() {
		b.WriteString(" DEFAULT CURRENT_TIMESTAMP")
		if d == MySQL && c.FetchOnUpdate {
			b.WriteString(" ON UPDATE CURRENT_TIMESTAMP")
		}
	}
	if c.Unique && !c.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

func columnType(c Column, d Dialect) string {
	kind := c.storageKind()
	if d == MySQL {
		switch kind {
		case KindInteger:
			return "BIGINT"
		case KindFloat:
			return "DOUBLE"
		case KindBool:
			return "BOOLEAN"
		case KindTimestamp:
			return "DATETIME"
		case KindUUID:
			return "CHAR(36)"
		case KindJSON:
			return "JSON"
		case KindBlob:
			return "LONGBLOB"
		default:
			if c.MaxLength > 0 {
				return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
			}
			if c.PrimaryKey || c.Unique || c.Kind == KindRef {
				return "VARCHAR(255)"
			}
			return "TEXT"
		}
	}

	switch kind {
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "REAL"
	case KindBool:
		return "BOOLEAN"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindBlob:
		return "BLOB"
	default:
		if c.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
		}
		return "TEXT"
	}
}
