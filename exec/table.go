package exec

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxRows bounds the rows FormatResult prints.
const MaxRows = 1000

// FormatResult renders an assembled plan result as a text table. Records
// become rows with one column per field, in the field order of the first
// record; scalars become a single "value" column. Nested collections are
// summarized by their size.
func FormatResult(result any) string {
	var items []any
	switch r := result.(type) {
	case []any:
		items = r
	case nil:
		return formatTable([]string{"value"}, [][]string{{"NULL"}})
	default:
		items = []any{r}
	}

	var columns []string
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			columns = slices.Sorted(maps.Keys(m))
			break
		}
	}
	if columns == nil {
		columns = []string{"value"}
	}

	truncated := false
	var rows [][]string
	for _, it := range items {
		if len(rows) >= MaxRows {
			truncated = true
			break
		}
		row := make([]string, len(columns))
		if m, ok := it.(map[string]any); ok {
			for i, c := range columns {
				row[i] = FormatValue(m[c])
			}
		} else {
			row[0] = FormatValue(it)
		}
		rows = append(rows, row)
	}
	out := formatTable(columns, rows)
	if truncated {
		out += fmt.Sprintf("(truncated at %d rows)\n", MaxRows)
	}
	return out
}

// FormatValue renders one materialized value for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []byte:
		return string(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		if len(x) == 1 {
			return "[1 item]"
		}
		return fmt.Sprintf("[%d items]", len(x))
	case map[string]any:
		parts := make([]string, 0, len(x))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			parts = append(parts, k+": "+FormatValue(x[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}

func formatTable(columns []string, rows [][]string) string {
	if len(columns) == 0 {
		return "(0 rows)\n"
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	sep := buildSeparator(widths)

	b.WriteString(sep)
	b.WriteByte('|')
	for i, c := range columns {
		fmt.Fprintf(&b, " %-*s |", widths[i], c)
	}
	b.WriteByte('\n')
	b.WriteString(sep)

	for _, row := range rows {
		b.WriteByte('|')
		for i, cell := range row {
			fmt.Fprintf(&b, " %-*s |", widths[i], cell)
		}
		b.WriteByte('\n')
	}

	b.WriteString(sep)

	if n := len(rows); n == 1 {
		b.WriteString("(1 row)\n")
	} else {
		fmt.Fprintf(&b, "(%d rows)\n", n)
	}
	return b.String()
}

func buildSeparator(widths []int) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteByte('+')
	}
	b.WriteByte('\n')
	return b.String()
}

// RedactDSN masks the password of a connection string for display.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err == nil && u.Scheme != "" && u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			// Rebuilt by hand so the mask is not percent-encoded.
			masked := u.Scheme + "://" + u.User.Username() + ":****@" + u.Host + u.Path
			if u.RawQuery != "" {
				masked += "?" + u.RawQuery
			}
			return masked
		}
		return dsn
	}

	// user:pass@tcp(host)/db
	if at := strings.Index(dsn, "@"); at > 0 {
		userPass := dsn[:at]
		if colon := strings.Index(userPass, ":"); colon >= 0 {
			return userPass[:colon+1] + "****" + dsn[at:]
		}
	}
	return dsn
}
