package builder

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is a SQL column type name.
type Type string

const (
	Int       Type = "INT"
	TinyInt   Type = "TINYINT"
	SmallInt  Type = "SMALLINT"
	MediumInt Type = "MEDIUMINT"
	BigInt    Type = "BIGINT"

	Float   Type = "FLOAT"
	Double  Type = "DOUBLE"
	Decimal Type = "DECIMAL"

	Char       Type = "CHAR"
	Varchar    Type = "VARCHAR"
	Text       Type = "TEXT"
	TinyText   Type = "TINYTEXT"
	MediumText Type = "MEDIUMTEXT"
	LongText   Type = "LONGTEXT"

	Date      Type = "DATE"
	Time      Type = "TIME"
	DateTime  Type = "DATETIME"
	Timestamp Type = "TIMESTAMP"
	Year      Type = "YEAR"

	Binary     Type = "BINARY"
	VarBinary  Type = "VARBINARY"
	Blob       Type = "BLOB"
	TinyBlob   Type = "TINYBLOB"
	MediumBlob Type = "MEDIUMBLOB"
	LongBlob   Type = "LONGBLOB"

	Enum Type = "ENUM"
	Set  Type = "SET"
	JSON Type = "JSON"
)

// Size renders a sized type, e.g. VARCHAR(255).
func (t Type) Size(n int) string {
	return string(t) + "(" + strconv.Itoa(n) + ")"
}

// Precision renders a type with precision and scale, e.g. DECIMAL(10,2).
func (t Type) Precision(precision, scale int) string {
	return fmt.Sprintf("%s(%d,%d)", t, precision, scale)
}

// Values renders ENUM or SET with its allowed values. Other types are
// returned unchanged.
func (t Type) Values(values ...string) string {
	if t != Enum && t != Set {
		return string(t)
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return string(t) + "(" + strings.Join(quoted, ",") + ")"
}

// Column constraints and foreign key actions.
const (
	NotNull                  = "NOT NULL"
	Null                     = "NULL"
	AutoIncrement            = "AUTO_INCREMENT"
	PrimaryKeyAttr           = "PRIMARY KEY"
	Unique                   = "UNIQUE"
	Unsigned                 = "UNSIGNED"
	ZeroFill                 = "ZEROFILL"
	Cascade                  = "CASCADE"
	Restrict                 = "RESTRICT"
	SetNull                  = "SET NULL"
	NoAction                 = "NO ACTION"
	DefaultNull              = "DEFAULT NULL"
	DefaultCurrentTimestamp  = "DEFAULT CURRENT_TIMESTAMP"
	OnUpdateCurrentTimestamp = "ON UPDATE CURRENT_TIMESTAMP"
)

// Default renders a DEFAULT clause. Strings are quoted, nil renders NULL.
func Default(v any) string {
	switch x := v.(type) {
	case nil:
		return DefaultNull
	case string:
		return "DEFAULT " + quote(x)
	case bool:
		if x {
			return "DEFAULT 1"
		}
		return "DEFAULT 0"
	default:
		return fmt.Sprintf("DEFAULT %v", x)
	}
}

// Comment renders a MySQL column COMMENT.
func Comment(s string) string {
	return "COMMENT " + quote(s)
}

// PKInt is an auto-increment INT primary key (MySQL syntax).
func PKInt() string { return string(Int) + " " + AutoIncrement + " " + PrimaryKeyAttr }

// PKBigInt is an auto-increment BIGINT primary key (MySQL syntax).
func PKBigInt() string { return string(BigInt) + " " + AutoIncrement + " " + PrimaryKeyAttr }

func VarcharNull(n int) string    { return Varchar.Size(n) + " " + Null }
func VarcharNotNull(n int) string { return Varchar.Size(n) + " " + NotNull }
func IntNull() string             { return string(Int) + " " + Null }
func IntNotNull() string          { return string(Int) + " " + NotNull }

func TimestampDefaultCurrent() string {
	return string(Timestamp) + " " + DefaultCurrentTimestamp
}

func TimestampDefaultCurrentOnUpdate() string {
	return TimestampDefaultCurrent() + " " + OnUpdateCurrentTimestamp
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
