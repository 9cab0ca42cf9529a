package builder

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

type namedKey struct {
	name    string
	columns []string
}

// CreateTableBuilder constructs CREATE TABLE statements.
type CreateTableBuilder struct {
	dialect     Dialect
	table       string
	ifNotExists bool
	columns     []string
	defs        map[string]string
	primaryKeys []string
	foreignKeys []string
	uniqueKeys  []namedKey
	indexes     []namedKey
	engine      string
	charset     string
	collate     string
	err         error
}

// CreateTable starts a MySQL CREATE TABLE statement.
func CreateTable(table string) *CreateTableBuilder {
	return MySQL.CreateTable(table)
}

// CreateTable starts a CREATE TABLE statement in dialect d.
func (d Dialect) CreateTable(table string) *CreateTableBuilder {
	b := &CreateTableBuilder{
		dialect: d,
		defs:    make(map[string]string),
		engine:  "InnoDB",
		charset: "utf8mb4",
		collate: "utf8mb4_general_ci",
	}
	if table = strings.TrimSpace(table); table == "" {
		return b.fail(errors.Wrap(ErrEmptyTable, "create table"))
	}
	b.table = table
	return b
}

func (b *CreateTableBuilder) fail(err error) *CreateTableBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// IfNotExists adds IF NOT EXISTS.
func (b *CreateTableBuilder) IfNotExists() *CreateTableBuilder {
	b.ifNotExists = true
	return b
}

// Column adds a column definition. Adding a column a second time replaces its
// definition but keeps its position.
func (b *CreateTableBuilder) Column(name, typ string, attrs ...string) *CreateTableBuilder {
	name, typ = strings.TrimSpace(name), strings.TrimSpace(typ)
	if name == "" || typ == "" {
		return b.fail(errors.Wrapf(ErrEmptyColumn, "create table %s: column %q type %q", b.table, name, typ))
	}
	def := strings.Join(append([]string{typ}, nonEmpty(attrs)...), " ")
	if _, ok := b.defs[name]; !ok {
		b.columns = append(b.columns, name)
	}
	b.defs[name] = def
	return b
}

// IDColumn adds an auto-increment integer primary key named id.
func (b *CreateTableBuilder) IDColumn() *CreateTableBuilder {
	switch b.dialect {
	case Postgres:
		return b.Column("id", "SERIAL", PrimaryKeyAttr)
	case SQLite:
		return b.Column("id", "INTEGER", PrimaryKeyAttr, "AUTOINCREMENT")
	default:
		return b.Column("id", string(Int), AutoIncrement, PrimaryKeyAttr)
	}
}

// Timestamps adds created_at and updated_at. Only MySQL refreshes
// updated_at automatically.
func (b *CreateTableBuilder) Timestamps() *CreateTableBuilder {
	b.Column("created_at", string(Timestamp), DefaultCurrentTimestamp)
	if b.dialect == MySQL {
		return b.Column("updated_at", string(Timestamp), DefaultCurrentTimestamp, OnUpdateCurrentTimestamp)
	}
	return b.Column("updated_at", string(Timestamp), DefaultCurrentTimestamp)
}

// PrimaryKey adds a table level PRIMARY KEY. Empty names are skipped and a
// key without columns is ignored.
func (b *CreateTableBuilder) PrimaryKey(columns ...string) *CreateTableBuilder {
	if cols := nonEmpty(columns); len(cols) > 0 {
		b.primaryKeys = append(b.primaryKeys, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}
	return b
}

// ForeignKey adds a FOREIGN KEY constraint. onDelete and onUpdate may be empty.
func (b *CreateTableBuilder) ForeignKey(column, refTable, refColumn, onDelete, onUpdate string) *CreateTableBuilder {
	column, refTable, refColumn = strings.TrimSpace(column), strings.TrimSpace(refTable), strings.TrimSpace(refColumn)
	if column == "" || refTable == "" || refColumn == "" {
		return b.fail(errors.Wrapf(ErrEmptyColumn, "create table %s: foreign key", b.table))
	}
	fk := "FOREIGN KEY (" + column + ") REFERENCES " + refTable + " (" + refColumn + ")"
	if onDelete = strings.TrimSpace(onDelete); onDelete != "" {
		fk += " ON DELETE " + onDelete
	}
	if onUpdate = strings.TrimSpace(onUpdate); onUpdate != "" {
		fk += " ON UPDATE " + onUpdate
	}
	b.foreignKeys = append(b.foreignKeys, fk)
	return b
}

// UniqueKey adds a named unique constraint.
func (b *CreateTableBuilder) UniqueKey(name string, columns ...string) *CreateTableBuilder {
	if cols := nonEmpty(columns); len(cols) > 0 {
		b.uniqueKeys = append(b.uniqueKeys, namedKey{name: strings.TrimSpace(name), columns: cols})
	}
	return b
}

// Index adds a named index. MySQL declares it inline, other dialects get a
// separate CREATE INDEX statement from BuildAll.
func (b *CreateTableBuilder) Index(name string, columns ...string) *CreateTableBuilder {
	if cols := nonEmpty(columns); len(cols) > 0 {
		b.indexes = append(b.indexes, namedKey{name: strings.TrimSpace(name), columns: cols})
	}
	return b
}

// Engine sets the MySQL storage engine.
func (b *CreateTableBuilder) Engine(engine string) *CreateTableBuilder {
	if engine = strings.TrimSpace(engine); engine != "" {
		b.engine = engine
	}
	return b
}

// Charset sets the MySQL default character set.
func (b *CreateTableBuilder) Charset(charset string) *CreateTableBuilder {
	if charset = strings.TrimSpace(charset); charset != "" {
		b.charset = charset
	}
	return b
}

// Collate sets the MySQL collation.
func (b *CreateTableBuilder) Collate(collate string) *CreateTableBuilder {
	if collate = strings.TrimSpace(collate); collate != "" {
		b.collate = collate
	}
	return b
}

// Build renders the CREATE TABLE statement only. Use BuildAll to include the
// index statements other dialects need.
func (b *CreateTableBuilder) Build() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.table == "" {
		return Statement{}, errors.Wrap(ErrEmptyTable, "create table")
	}
	if len(b.columns) == 0 {
		return Statement{}, errors.Wrapf(ErrNoColumns, "create table %s", b.table)
	}

	defs := make([]string, 0, len(b.columns)+len(b.primaryKeys)+len(b.foreignKeys)+len(b.uniqueKeys)+len(b.indexes))
	for _, c := range b.columns {
		defs = append(defs, c+" "+b.defs[c])
	}
	defs = append(defs, b.primaryKeys...)
	defs = append(defs, b.foreignKeys...)
	for _, k := range b.uniqueKeys {
		cols := strings.Join(k.columns, ", ")
		switch {
		case b.dialect == MySQL:
			defs = append(defs, "UNIQUE KEY "+k.name+" ("+cols+")")
		case k.name != "":
			defs = append(defs, "CONSTRAINT "+k.name+" UNIQUE ("+cols+")")
		default:
			defs = append(defs, "UNIQUE ("+cols+")")
		}
	}
	if b.dialect == MySQL {
		for _, k := range b.indexes {
			defs = append(defs, "INDEX "+k.name+" ("+strings.Join(k.columns, ", ")+")")
		}
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if b.ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString(")")
	if b.dialect == MySQL {
		sb.WriteString(" ENGINE=")
		sb.WriteString(b.engine)
		sb.WriteString(" DEFAULT CHARSET=")
		sb.WriteString(b.charset)
		sb.WriteString(" COLLATE=")
		sb.WriteString(b.collate)
	}

	return Statement{SQL: sb.String()}, nil
}

// BuildAll renders the CREATE TABLE statement followed by one CREATE INDEX
// statement per index for dialects without inline index declarations.
func (b *CreateTableBuilder) BuildAll() ([]Statement, error) {
	create, err := b.Build()
	if err != nil {
		return nil, err
	}
	stmts := []Statement{create}
	if b.dialect == MySQL {
		return stmts, nil
	}
	for _, k := range b.indexes {
		name := k.name
		if name == "" {
			name = "idx_" + b.table + "_" + strings.Join(k.columns, "_")
		}
		sql := "CREATE INDEX "
		if b.ifNotExists {
			sql += "IF NOT EXISTS "
		}
		sql += name + " ON " + b.table + " (" + strings.Join(k.columns, ", ") + ")"
		stmts = append(stmts, Statement{SQL: sql})
	}
	return stmts, nil
}

// Exec runs every statement from BuildAll in order.
func (b *CreateTableBuilder) Exec(ctx context.Context, db Execer) error {
	stmts, err := b.BuildAll()
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := s.Exec(ctx, db); err != nil {
			return errors.Wrapf(err, "create table %s", b.table)
		}
	}
	return nil
}
