package parser

import (
	"regexp"
	"strings"
)

// QueryType represents the type of SQL statement
type QueryType int

const (
	QueryUnknown QueryType = iota
	QuerySelect
	QueryInsert
	QueryUpdate
	QueryDelete
	QueryCreate
)

func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "SELECT"
	case QueryInsert:
		return "INSERT"
	case QueryUpdate:
		return "UPDATE"
	case QueryDelete:
		return "DELETE"
	case QueryCreate:
		return "CREATE"
	default:
		return "UNKNOWN"
	}
}

// ParsedQuery contains extracted information from a SQL statement
type ParsedQuery struct {
	Type  QueryType
	DB    string // Database name from FQN
	Table string // First table the statement targets
	Query string // Original query
}

var (
	// Match statement type (allows comments before keyword)
	queryTypeRegex = regexp.MustCompile(`(?i)^\s*(?:/\*.*?\*/\s*)*(SELECT|INSERT|UPDATE|DELETE|CREATE)\b`)
	// Match the target table, optionally qualified like db.table or `db`.`table`
	tableRegex = regexp.MustCompile("(?i)\\b(?:FROM|INTO|UPDATE|TABLE(?:\\s+IF\\s+NOT\\s+EXISTS)?)\\s+['\"`]?([a-zA-Z0-9_$]+)['\"`]?(?:\\s*\\.\\s*['\"`]?([a-zA-Z0-9_$]+)['\"`]?)?")
)

// Parse extracts metadata from a SQL statement
func Parse(query string) *ParsedQuery {
	p := &ParsedQuery{
		Query: query,
		Type:  QueryUnknown,
	}

	if matches := queryTypeRegex.FindStringSubmatch(query); matches != nil {
		switch strings.ToUpper(matches[1]) {
		case "SELECT":
			p.Type = QuerySelect
		case "INSERT":
			p.Type = QueryInsert
		case "UPDATE":
			p.Type = QueryUpdate
		case "DELETE":
			p.Type = QueryDelete
		case "CREATE":
			p.Type = QueryCreate
		}
	}

	if matches := tableRegex.FindStringSubmatch(query); matches != nil {
		if matches[2] != "" {
			p.DB = matches[1]
			p.Table = matches[2]
		} else {
			p.Table = matches[1]
		}
	}

	return p
}

// IsWritable returns true if the statement modifies rows (INSERT, UPDATE, DELETE)
func (p *ParsedQuery) IsWritable() bool {
	return p.Type == QueryInsert ||
		p.Type == QueryUpdate ||
		p.Type == QueryDelete
}

// Label returns the table name for use as a metric label, "-" when none was found
func (p *ParsedQuery) Label() string {
	if p.Table == "" {
		return "-"
	}
	return p.Table
}
