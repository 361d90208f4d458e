// Package query builds request bodies for the remote catalog's query language.
//
// A query is a sequence of "<name> <value>;" statements, for example:
//
//	fields id,name,slug;sort id asc;limit 500;offset 1000;
//
// The builder does not validate where/sort expressions; they are passed
// through as opaque strings.
package query

import (
	"strconv"
	"strings"
)

// Parameter names understood by the catalog API.
const (
	ParamFields  = "fields"
	ParamExclude = "exclude"
	ParamWhere   = "where"
	ParamLimit   = "limit"
	ParamOffset  = "offset"
	ParamSort    = "sort"
	ParamQuery   = "query"
)

// Builder accumulates query parameters. Setting a parameter twice keeps its
// original position and replaces its value.
// The zero value is ready to use.
type Builder struct {
	order  []string
	values map[string]string
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Fields selects the fields returned for each record.
func (b *Builder) Fields(fields ...string) *Builder {
	return b.set(ParamFields, joinList(fields))
}

// Exclude removes fields from the selection.
func (b *Builder) Exclude(fields ...string) *Builder {
	return b.set(ParamExclude, joinList(fields))
}

// Where sets the filter expression.
func (b *Builder) Where(expr string) *Builder {
	return b.set(ParamWhere, expr)
}

// Limit sets the maximum number of records in one response.
func (b *Builder) Limit(n int) *Builder {
	return b.set(ParamLimit, strconv.Itoa(n))
}

// Offset sets the index of the first record returned.
func (b *Builder) Offset(n int) *Builder {
	return b.set(ParamOffset, strconv.Itoa(n))
}

// Sort sets the sort expression, e.g. "id asc".
func (b *Builder) Sort(expr string) *Builder {
	return b.set(ParamSort, expr)
}

// Query sets a free-form sub-query, as used by multiquery/count requests:
//
//	games/count "total" { where id > 0; }
func (b *Builder) Query(expr string) *Builder {
	return b.set(ParamQuery, expr)
}

// Build renders all parameters in the order they were first set. Statements
// are concatenated without a separator.
func (b *Builder) Build() string {
	var sb strings.Builder
	for _, name := range b.order {
		sb.WriteString(name)
		sb.WriteByte(' ')
		sb.WriteString(terminate(b.values[name]))
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (b *Builder) String() string {
	return b.Build()
}

func (b *Builder) set(name, value string) *Builder {
	if b.values == nil {
		b.values = make(map[string]string)
	}
	if _, ok := b.values[name]; !ok {
		b.order = append(b.order, name)
	}
	b.values[name] = value
	return b
}

func joinList(items []string) string {
	trimmed := make([]string, 0, len(items))
	for _, item := range items {
		trimmed = append(trimmed, strings.TrimSpace(item))
	}
	return strings.Join(trimmed, ",")
}

func terminate(value string) string {
	if strings.HasSuffix(value, ";") {
		return value
	}
	return value + ";"
}
