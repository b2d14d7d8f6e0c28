// Package remote is the boundary to the authoritative database.
//
// Every domain service loads collections with Backend.Fetch and confirms
// mutations with Backend.Write. Rows are loosely typed column maps; services
// convert them to entity structs with DecodeRows and EncodeRow.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Write when an update or delete matched no row.
var ErrNotFound = errors.New("remote: no matching row")

// Row is one record, keyed by column name.
type Row map[string]interface{}

// ID returns the row's server identifier, or "".
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Op is a write operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// FilterOp is a comparison used in a Filter.
type FilterOp string

const (
	Eq  FilterOp = "eq"
	Neq FilterOp = "neq"
	Gt  FilterOp = "gt"
	Gte FilterOp = "gte"
	Lt  FilterOp = "lt"
	Lte FilterOp = "lte"
)

// Filter restricts rows by one column.
type Filter struct {
	Column string
	Op     FilterOp
	Value  interface{}
}

// Where builds an equality filter.
func Where(column string, value interface{}) Filter {
	return Filter{Column: column, Op: Eq, Value: value}
}

// Order sorts by one column.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a Fetch.
type Query struct {
	Collection string
	Filters    []Filter
	Order      *Order
	Limit      int // 0 means no limit
}

// Mutation describes a Write.
type Mutation struct {
	Collection string
	Op         Op
	Payload    Row
	// Match selects the rows an update or delete applies to.
	Match []Filter
	// ConflictKey names the comma-separated columns that identify an existing
	// row for an upsert. Defaults to "id".
	ConflictKey string
}

// Backend is the remote database.
type Backend interface {
	// Fetch returns the rows of a collection matching q.
	Fetch(ctx context.Context, q Query) ([]Row, error)

	// Write applies m and returns the confirmed row as stored by the server.
	// For deletes the returned row is the removed record.
	Write(ctx context.Context, m Mutation) (Row, error)
}

// EncodeRow converts a struct with json tags to a Row. Zero-valued fields
// tagged omitempty are left out.
func EncodeRow(v interface{}) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return row, nil
}

// DecodeRow converts a Row to T.
func DecodeRow[T any](row Row) (T, error) {
	var out T
	data, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

// DecodeRows converts every row to T.
func DecodeRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := DecodeRow[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
