package store

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// dialect captures the differences between the SQL backends. Field names are
// validated against identifierRegex before they are inlined into SQL.
type dialect struct {
	builder     sq.StatementBuilderType
	createTable string
	dataValue   func(data []byte) interface{}
	fieldExpr   func(field string, kind valueKind) string
	valueArg    func(v interface{}, kind valueKind) interface{}
	orderExpr   func(field string, asTime bool) string
	selectData  string
	textTime    bool
}

var postgresDialect = dialect{
	builder:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	createTable: "CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())",
	dataValue: func(data []byte) interface{} {
		return sq.Expr("?::jsonb", string(data))
	},
	fieldExpr: func(field string, kind valueKind) string {
		switch kind {
		case valueNumber:
			return fmt.Sprintf("(data->>'%s')::double precision", field)
		case valueBool:
			return fmt.Sprintf("(data->>'%s')::boolean", field)
		case valueTime:
			return fmt.Sprintf("(data->>'%s')::timestamptz", field)
		}
		return fmt.Sprintf("data->>'%s'", field)
	},
	valueArg: func(v interface{}, kind valueKind) interface{} {
		if kind == valueNumber {
			f, _ := toFloat(v)
			return f
		}
		return v
	},
	orderExpr: func(field string, asTime bool) string {
		if asTime {
			return fmt.Sprintf("(data->>'%s')::timestamptz", field)
		}
		return fmt.Sprintf("data->'%s'", field)
	},
	selectData: "data::text",
}

var sqliteDialect = dialect{
	builder:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	createTable: "CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL, updated_at TEXT NOT NULL)",
	dataValue: func(data []byte) interface{} {
		return string(data)
	},
	fieldExpr: func(field string, kind valueKind) string {
		if kind == valueTime {
			return fmt.Sprintf("julianday(json_extract(data, '$.%s'))", field)
		}
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	},
	valueArg: func(v interface{}, kind valueKind) interface{} {
		switch kind {
		case valueNumber:
			f, _ := toFloat(v)
			return f
		case valueBool:
			if v.(bool) {
				return 1
			}
			return 0
		case valueTime:
			return sq.Expr("julianday(?)", v.(time.Time).UTC().Format(time.RFC3339Nano))
		}
		return v
	},
	orderExpr: func(field string, asTime bool) string {
		if asTime {
			return fmt.Sprintf("julianday(json_extract(data, '$.%s'))", field)
		}
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	},
	selectData: "data",
	textTime:   true,
}

func (d dialect) createTableSQL(collection string) string {
	return fmt.Sprintf(d.createTable, pq.QuoteIdentifier(collection))
}

func (d dialect) upsertSQL(collection string, doc Document, now time.Time) (string, []interface{}, error) {
	table := pq.QuoteIdentifier(collection)
	// Identical payloads are left untouched so repeated syncs are no-ops.
	suffix := fmt.Sprintf(
		"ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at WHERE %s.data IS DISTINCT FROM excluded.data",
		table,
	)
	return d.builder.
		Insert(table).
		Columns("id", "data", "updated_at").
		Values(doc.ID, d.dataValue(doc.Data), d.timestamp(now)).
		Suffix(suffix).
		ToSql()
}

func (d dialect) timestamp(t time.Time) interface{} {
	if d.textTime {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t
}

func (d dialect) selectSQL(collection string, filter Filter) (string, []interface{}, error) {
	query := d.builder.
		Select("id", d.selectData).
		From(pq.QuoteIdentifier(collection))

	for _, cond := range filter.Conditions {
		kind := kindOf(cond.Value)
		expr := "id"
		if cond.Field != "id" {
			expr = d.fieldExpr(cond.Field, kind)
		}
		arg := d.valueArg(cond.Value, kind)
		if cond.Field == "id" {
			arg = cond.Value
		}
		if sub, ok := arg.(sq.Sqlizer); ok {
			subSQL, subArgs, err := sub.ToSql()
			if err != nil {
				return "", nil, err
			}
			query = query.Where(sq.Expr(fmt.Sprintf("%s %s %s", expr, cond.Op, subSQL), subArgs...))
			continue
		}
		query = query.Where(sq.Expr(fmt.Sprintf("%s %s ?", expr, cond.Op), arg))
	}

	if filter.OrderBy != "" {
		direction := "ASC"
		if filter.Descending {
			direction = "DESC"
		}
		order := "id"
		if filter.OrderBy != "id" {
			order = d.orderExpr(filter.OrderBy, filter.OrderTime)
		}
		query = query.OrderBy(fmt.Sprintf("%s %s", order, direction), "id ASC")
	} else {
		query = query.OrderBy("id ASC")
	}

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	return query.ToSql()
}
