package store

import (
	"fmt"
	"strings"
)

// whereBuilder assembles a parameterized WHERE clause. Placeholders are
// numbered in the order conditions are added.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// add appends "column = $n".
func (wb *whereBuilder) add(column string, value any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = $%d", column, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// addRaw appends a condition without arguments.
func (wb *whereBuilder) addRaw(cond string) {
	wb.conditions = append(wb.conditions, cond)
}

// addSearch matches query as a substring of any of columns, case-
// insensitively. extra conditions share the same placeholder.
func (wb *whereBuilder) addSearch(query string, columns []string, extra ...string) {
	query = strings.TrimSpace(query)
	if query == "" || len(columns) == 0 {
		return
	}
	ph := fmt.Sprintf("$%d", wb.argIndex)
	parts := make([]string, 0, len(columns)+len(extra))
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("%s ILIKE %s", c, ph))
	}
	parts = append(parts, extra...)
	wb.conditions = append(wb.conditions, "("+strings.Join(parts, " OR ")+")")
	wb.args = append(wb.args, "%"+escapeLike(query)+"%")
	wb.argIndex++
}

// nextArgIndex is the placeholder number for the next argument.
func (wb *whereBuilder) nextArgIndex() int { return wb.argIndex }

// build returns the clause with a leading " WHERE ", or "" and nil args
// when there are no conditions.
func (wb *whereBuilder) build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
