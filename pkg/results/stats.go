package results

import (
	"strconv"
	"strings"
)

// ParseStats extracts measures and the segment table from a FreeSurfer-style
// .stats file. "# Measure struct, short, desc, value, unit" lines become one
// key-value pair each; a "# ColHeaders ..." line opens a table collected from
// the following data rows. A file yielding neither returns an empty map.
func ParseStats(content string) map[string]any {
	out := map[string]any{}
	var headers []string
	var table []map[string]any

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			body := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			switch {
			case strings.HasPrefix(body, "Measure "):
				if key, value, ok := parseMeasure(body); ok {
					out[key] = value
				}
			case strings.HasPrefix(body, "ColHeaders "):
				headers = strings.Fields(strings.TrimPrefix(body, "ColHeaders "))
			}
			continue
		}

		if len(headers) == 0 {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) != len(headers) {
			continue
		}
		row := make(map[string]any, len(fields))
		for i, h := range headers {
			row[h] = coerce(fields[i])
		}
		table = append(table, row)
	}

	if len(table) > 0 {
		out["table"] = table
	}
	return out
}

// parseMeasure splits "Measure <struct>, <short>, <desc>, <value>, <unit>"
// into the short name and the value
func parseMeasure(body string) (string, any, bool) {
	rest := strings.TrimPrefix(body, "Measure ")
	parts := strings.Split(rest, ",")
	if len(parts) < 5 {
		return "", nil, false
	}
	short := strings.TrimSpace(parts[1])
	// The description may itself contain commas; the value is the
	// second-to-last field
	value := strings.TrimSpace(parts[len(parts)-2])
	if short == "" {
		return "", nil, false
	}
	return short, coerce(value), true
}

// coerce converts a field to float64 when it parses as a number
func coerce(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ParseColorLUT parses a FreeSurfer color lookup table: non-comment lines of
// "index name R G B flag"
func ParseColorLUT(content string) []LabelEntry {
	var entries []LabelEntry
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 6 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		r, errR := strconv.Atoi(fields[2])
		g, errG := strconv.Atoi(fields[3])
		b, errB := strconv.Atoi(fields[4])
		if errR != nil || errG != nil || errB != nil {
			continue
		}
		entries = append(entries, LabelEntry{
			Index: idx,
			Name:  fields[1],
			Color: [3]int{r, g, b},
		})
	}
	return entries
}
