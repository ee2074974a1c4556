// Package stats renders TRex statistics snapshots as JSON objects or CSV
// tables.
package stats

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/tgn"
	"github.com/takehaya/trexshell/pkg/trex"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseView accepts exactly "Port" or "Stream".
func ParseView(name string) (trex.View, error) {
	for _, v := range trex.Views {
		if string(v) == name {
			return v, nil
		}
	}
	return "", tgn.InvalidArgument("Statistics View", name, "Port", "Stream")
}

// ParseFormat accepts json or csv in any case, surrounding spaces ignored.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", tgn.InvalidArgument("Output Type", name, "CSV", "JSON")
}

// Result is a rendered snapshot. Exactly one of JSON and CSV is set,
// according to Format.
type Result struct {
	Format Format
	JSON   map[string]map[string]interface{}
	CSV    string
}

// Text returns the result the way it is handed back to the platform.
func (r Result) Text() (string, error) {
	if r.Format == FormatCSV {
		return r.CSV, nil
	}
	b, err := json.Marshal(r.JSON)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal statistics")
	}
	return string(b), nil
}

// Render converts snap into the requested format.
func Render(view trex.View, snap trex.Snapshot, format Format) (Result, error) {
	switch format {
	case FormatJSON:
		obj, err := toJSON(snap)
		if err != nil {
			return Result{}, err
		}
		return Result{Format: FormatJSON, JSON: obj}, nil
	case FormatCSV:
		text, err := toCSV(view, snap)
		if err != nil {
			return Result{}, err
		}
		return Result{Format: FormatCSV, CSV: text}, nil
	}
	return Result{}, tgn.InvalidArgument("Output Type", string(format), "CSV", "JSON")
}

func toJSON(snap trex.Snapshot) (map[string]map[string]interface{}, error) {
	raw := make(map[string]map[string]float64, len(snap))
	for _, o := range snap {
		m := make(map[string]float64, len(o.Metrics))
		for _, metric := range o.Metrics {
			m[metric.Name] = metric.Value
		}
		raw[o.Name] = m
	}
	// JSON で往復させて呼び出し元には素の値だけを渡す
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal statistics")
	}
	var out map[string]map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal statistics")
	}
	return out, nil
}

// Columns returns the union of the metric names of all objects, in order of
// first appearance.
func Columns(snap trex.Snapshot) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, o := range snap {
		for _, m := range o.Metrics {
			if !seen[m.Name] {
				seen[m.Name] = true
				cols = append(cols, m.Name)
			}
		}
	}
	return cols
}

func toCSV(view trex.View, snap trex.Snapshot) (string, error) {
	cols := Columns(snap)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{string(view)}, cols...)); err != nil {
		return "", errors.Wrap(err, "failed to write csv header")
	}
	for _, o := range snap {
		row := make([]string, len(cols)+1)
		row[0] = o.Name
		for i, c := range cols {
			if v, ok := o.Get(c); ok {
				row[i+1] = FormatValue(v)
			}
		}
		if err := w.Write(row); err != nil {
			return "", errors.Wrapf(err, "failed to write csv row %s", o.Name)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, "failed to flush csv")
	}
	return strings.TrimRightFunc(buf.String(), isSpace), nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// FormatValue renders a metric value as text, integers without a fraction.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
