package catmap

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/quatton/catmap-adapter/pkg/pyrepr"
)

// Entry is one (descriptor point, values) pair of a result table. Point is
// whatever CatMAP used as key; tuples and lists arrive as []any.
type Entry struct {
	Point  any
	Values []float64
}

// MarshalJSON writes the entry as [point, values]. Non-finite numbers are
// written as "inf", "-inf" or "nan".
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{JSONPoint(e.Point), JSONValues(e.Values)})
}

// UnmarshalJSON reads the [point, values] form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("result entry: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.Point); err != nil {
		return fmt.Errorf("result entry point: %w", err)
	}
	var values []JSONFloat
	if err := json.Unmarshal(raw[1], &values); err != nil {
		return fmt.Errorf("result entry values: %w", err)
	}
	e.Values = make([]float64, len(values))
	for i, v := range values {
		e.Values[i] = float64(v)
	}
	return nil
}

// JSONFloat is a float64 that encodes inf, -inf and nan as the strings
// Python's repr uses, since JSON has no literal for them.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return json.Marshal(pyrepr.FormatFloat(v))
	}
	return json.Marshal(v)
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = JSONFloat(v)
		return nil
	}
	switch s {
	case "inf":
		*f = JSONFloat(math.Inf(1))
	case "-inf":
		*f = JSONFloat(math.Inf(-1))
	case "nan":
		*f = JSONFloat(math.NaN())
	default:
		return fmt.Errorf("invalid float %q", s)
	}
	return nil
}

// JSONValues converts values for encoding. A nil slice becomes empty.
func JSONValues(values []float64) []JSONFloat {
	out := make([]JSONFloat, len(values))
	for i, v := range values {
		out[i] = JSONFloat(v)
	}
	return out
}

// JSONPoint replaces the float64s in a descriptor point with JSONFloat.
func JSONPoint(point any) any {
	switch p := point.(type) {
	case float64:
		return JSONFloat(p)
	case []any:
		out := make([]any, len(p))
		for i, v := range p {
			out[i] = JSONPoint(v)
		}
		return out
	}
	return point
}

// Table is an ordered result map.
type Table []Entry

// ResultBundle holds everything parsed from a finished run.
type ResultBundle struct {
	Log               []byte `json:"log"`
	CoverageMap       Table  `json:"coverage_map"`
	RateMap           Table  `json:"rate_map"`
	ProductionRateMap Table  `json:"production_rate_map"`
}

const (
	KeyCoverageMap       = "coverage_map"
	KeyRateMap           = "rate_map"
	KeyProductionRateMap = "production_rate_map"
)

// RequiredKeys are the top-level pickle entries a successful run produces.
var RequiredKeys = []string{KeyCoverageMap, KeyRateMap, KeyProductionRateMap}

// tableFromPickle converts a decoded [(point, values), ...] sequence.
func tableFromPickle(v interface{}) (Table, error) {
	seq, ok := v.(sequence)
	if !ok {
		return nil, fmt.Errorf("expected a sequence of pairs, got %T", v)
	}
	table := make(Table, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		pair, ok := seq.Get(i).(sequence)
		if !ok || pair.Len() != 2 {
			return nil, fmt.Errorf("entry %d is not a (point, values) pair", i)
		}
		raw, ok := pair.Get(1).(sequence)
		if !ok {
			return nil, fmt.Errorf("entry %d: values are %T, not a sequence", i, pair.Get(1))
		}
		values := make([]float64, raw.Len())
		for j := range values {
			f, err := toFloat(raw.Get(j))
			if err != nil {
				return nil, fmt.Errorf("entry %d value %d: %w", i, j, err)
			}
			values[j] = f
		}
		table = append(table, Entry{Point: normalizeKey(pair.Get(0)), Values: values})
	}
	return table, nil
}
