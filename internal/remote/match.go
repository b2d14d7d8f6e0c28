package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Shared in-process query evaluation for the embedded backends.

// normalize maps a value to its JSON-decoded form so that every numeric type
// compares as float64.
func normalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// compare orders a and b. ok is false when the values are not comparable.
func compare(a, b interface{}) (c int, ok bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, isNum := b.(float64)
		if !isNum {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case nil:
		if b == nil {
			return 0, true
		}
		return 0, false
	}
	if fmt.Sprint(a) == fmt.Sprint(b) {
		return 0, true
	}
	return 0, false
}

func (f Filter) matches(row Row) bool {
	c, ok := compare(row[f.Column], f.Value)
	switch f.Op {
	case Eq:
		return ok && c == 0
	case Neq:
		return !ok || c != 0
	case Gt:
		return ok && c > 0
	case Gte:
		return ok && c >= 0
	case Lt:
		return ok && c < 0
	case Lte:
		return ok && c <= 0
	}
	return false
}

func matchesAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !f.matches(row) {
			return false
		}
	}
	return true
}

// selectRows filters, orders and limits rows. The input is not modified.
func selectRows(rows []Row, q Query) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if matchesAll(row, q.Filters) {
			out = append(out, copyRow(row))
		}
	}
	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Desc
		sort.SliceStable(out, func(i, j int) bool {
			c, _ := compare(out[i][col], out[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// conflictFilters builds the equality filters that locate an upsert target.
func conflictFilters(m Mutation) []Filter {
	key := m.ConflictKey
	if key == "" {
		key = "id"
	}
	var filters []Filter
	for _, col := range strings.Split(key, ",") {
		col = strings.TrimSpace(col)
		filters = append(filters, Where(col, m.Payload[col]))
	}
	return filters
}

// merge returns a copy of base with patch applied.
func merge(base, patch Row) Row {
	out := make(Row, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return copyRow(out)
}

// copyRow deep-copies row through JSON so callers cannot alias stored state.
func copyRow(row Row) Row {
	data, err := json.Marshal(row)
	if err != nil {
		out := make(Row, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	var out Row
	_ = json.Unmarshal(data, &out)
	return out
}
