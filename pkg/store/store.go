// Package store persists domain records as JSON documents keyed by stable identifiers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Collections used by the pipeline
const (
	CollectionProfiles     = "profiles"
	CollectionEvents       = "events"
	CollectionOdds         = "odds"
	CollectionOddsHistory  = "odds_history"
	CollectionIntelligence = "intelligence"
)

// AllCollections lists every collection the pipeline reads or writes
var AllCollections = []string{
	CollectionProfiles,
	CollectionEvents,
	CollectionOdds,
	CollectionOddsHistory,
	CollectionIntelligence,
}

var (
	// ErrInvalidField is returned for field or collection names that are not plain identifiers
	ErrInvalidField = errors.New("invalid field name")
	// ErrUnsupportedValue is returned for filter values the store cannot compare
	ErrUnsupportedValue = errors.New("unsupported filter value")
)

var identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Document is one record in a collection. Data holds the JSON encoding of the record.
type Document struct {
	ID   string
	Data json.RawMessage
}

// NewDocument encodes record as a document with the given id
func NewDocument(id string, record interface{}) (Document, error) {
	if id == "" {
		return Document{}, errors.New("document id must not be empty")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	return Document{ID: id, Data: data}, nil
}

// Decode unmarshals every document into a slice of T
func Decode[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Operator is a comparison used in a filter condition
type Operator string

const (
	OpEq  Operator = "="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// Condition compares a top-level field of the record against a value.
// Supported values are string, bool, numeric types and time.Time.
type Condition struct {
	Field string
	Op    Operator
	Value interface{}
}

// Filter selects documents. Conditions are combined with AND.
// Field "id" refers to the document id.
type Filter struct {
	Conditions []Condition
	OrderBy    string
	// OrderTime sorts OrderBy as a timestamp instead of its JSON value
	OrderTime  bool
	Descending bool
	Limit      int
}

// Where appends an equality or comparison condition
func (f Filter) Where(field string, op Operator, value interface{}) Filter {
	f.Conditions = append(append([]Condition(nil), f.Conditions...), Condition{Field: field, Op: op, Value: value})
	return f
}

// OrderByTime sorts by a timestamp field
func (f Filter) OrderByTime(field string, descending bool) Filter {
	f.OrderBy = field
	f.OrderTime = true
	f.Descending = descending
	return f
}

// ByID returns a filter matching one document id
func ByID(id string) Filter {
	return Filter{}.Where("id", OpEq, id)
}

// Validate checks field names and operators
func (f Filter) Validate() error {
	for _, c := range f.Conditions {
		if !identifierRegex.MatchString(c.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, c.Field)
		}
		switch c.Op {
		case OpEq, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("unsupported operator %q", c.Op)
		}
		if kindOf(c.Value) == valueUnsupported {
			return fmt.Errorf("%w: %T for field %s", ErrUnsupportedValue, c.Value, c.Field)
		}
	}
	if f.OrderBy != "" && !identifierRegex.MatchString(f.OrderBy) {
		return fmt.Errorf("%w: %q", ErrInvalidField, f.OrderBy)
	}
	return nil
}

// Store is the persistence boundary used by the sync and intelligence services.
// Writes are upserts keyed by id; only per-record atomicity is guaranteed by Upsert,
// UpsertMany writes all documents or none.
type Store interface {
	// Upsert inserts or replaces a document. It reports false when the stored
	// document was already identical and nothing was written.
	Upsert(ctx context.Context, collection string, doc Document) (bool, error)

	// UpsertMany upserts all documents atomically and returns how many changed
	UpsertMany(ctx context.Context, collection string, docs []Document) (int, error)

	// Query returns the documents matching the filter
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
}

// Migrator is implemented by stores that need tables created before use
type Migrator interface {
	Migrate(ctx context.Context, collections ...string) error
}

type valueKind int

const (
	valueUnsupported valueKind = iota
	valueString
	valueNumber
	valueBool
	valueTime
)

func kindOf(v interface{}) valueKind {
	switch v.(type) {
	case string:
		return valueString
	case bool:
		return valueBool
	case time.Time:
		return valueTime
	case int, int32, int64, float32, float64:
		return valueNumber
	}
	return valueUnsupported
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func validCollection(collection string) error {
	if !identifierRegex.MatchString(collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidField, collection)
	}
	return nil
}
