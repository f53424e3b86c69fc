package datasource

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Markdown renders up to maxRows rows as a markdown table for prompts.
// maxRows <= 0 renders every row.
func (r *ResultSet) Markdown(maxRows int) string {
	if r == nil || len(r.Columns) == 0 {
		return "(no columns)"
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(r.Columns)) + "\n")

	rows := r.Preview(maxRows).Rows
	for _, row := range rows {
		cells := make([]string, len(r.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = formatCell(row[i])
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if extra := len(r.Rows) - len(rows); extra > 0 {
		fmt.Fprintf(&b, "\n(%d more rows)\n", extra)
	}
	return b.String()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return t.Format(time.RFC3339)
	case string:
		return strings.ReplaceAll(t, "|", `\|`)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
