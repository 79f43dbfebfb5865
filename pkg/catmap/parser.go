package catmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/quatton/catmap-adapter/pkg/folder"
	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

// ExpectedOutputs names the files a run must leave behind.
type ExpectedOutputs struct {
	StdoutName string `json:"stdout_name"`
	DataFile   string `json:"data_file"`
}

func (o ExpectedOutputs) names() []string {
	return []string{o.StdoutName, o.DataFile}
}

// MissingOutputError reports expected files absent from the retrieved
// folder.
type MissingOutputError struct {
	Expected []string
	Found    []string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("calculation did not produce all expected output files: found %v, expected %v", e.Found, e.Expected)
}

// MissingResultKeyError reports a data file without a usable result table.
// Log carries the captured stdout so the failed solver run can be inspected.
type MissingResultKeyError struct {
	Key    string
	Reason string
	Log    []byte
}

func (e *MissingResultKeyError) Error() string {
	if e.Key == "" {
		return "no information stored in the data file: " + e.Reason
	}
	return fmt.Sprintf("no information stored in the data file: %s: %s", e.Key, e.Reason)
}

// Parser turns retrieved CatMAP outputs into a ResultBundle.
type Parser struct {
	Logger *qlog.Logger
}

// NewParser returns a Parser logging to logger.
func NewParser(logger *qlog.Logger) *Parser {
	return &Parser{Logger: logger}
}

// Parse checks that both expected files were retrieved, reads the log and
// decodes the three result tables. It never returns a partial bundle.
func (p *Parser) Parse(ctx context.Context, retrieved folder.Retrieved, expected ExpectedOutputs) (*ResultBundle, error) {
	log := p.Logger
	if log == nil {
		log = qlog.NewDiscard()
	}

	found, err := retrieved.ListObjectNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list retrieved files: %w", err)
	}
	if missing := missingNames(expected.names(), found); len(missing) > 0 {
		log.Error(fmt.Sprintf("Found files '%v', expected to find '%v'", found, expected.names()), "missing", missing)
		return nil, qerr.New(qerr.CodeMissingOutput, &MissingOutputError{
			Expected: expected.names(),
			Found:    found,
		})
	}

	log.Info(fmt.Sprintf("Parsing '%s'", expected.StdoutName))
	logText, err := folder.ReadFile(ctx, retrieved, expected.StdoutName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", expected.StdoutName, err)
	}

	log.Info(fmt.Sprintf("Parsing '%s'", expected.DataFile))
	raw, err := folder.ReadFile(ctx, retrieved, expected.DataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", expected.DataFile, err)
	}
	tables, err := decodeTables(raw)
	if err != nil {
		var keyErr *MissingResultKeyError
		if errors.As(err, &keyErr) {
			keyErr.Log = logText
		}
		log.Error("Result data is incomplete", "file", expected.DataFile, "error", err)
		return nil, qerr.New(qerr.CodeMissingResultKey, err)
	}

	return &ResultBundle{
		Log:               logText,
		CoverageMap:       tables[KeyCoverageMap],
		RateMap:           tables[KeyRateMap],
		ProductionRateMap: tables[KeyProductionRateMap],
	}, nil
}

func decodeTables(raw []byte) (map[string]Table, error) {
	if len(raw) == 0 {
		return nil, &MissingResultKeyError{Reason: "data file is empty"}
	}
	obj, err := loadPickle(bytes.NewReader(raw))
	if err != nil {
		return nil, &MissingResultKeyError{Reason: "cannot decode data file: " + err.Error()}
	}
	m, ok := obj.(mapping)
	if !ok {
		return nil, &MissingResultKeyError{Reason: fmt.Sprintf("top level is %T, not a mapping", obj)}
	}

	tables := make(map[string]Table, len(RequiredKeys))
	for _, key := range RequiredKeys {
		v, ok := m.Get(key)
		if !ok {
			return nil, &MissingResultKeyError{Key: key, Reason: "key is absent"}
		}
		t, err := tableFromPickle(v)
		if err != nil {
			return nil, &MissingResultKeyError{Key: key, Reason: err.Error()}
		}
		tables[key] = t
	}
	return tables, nil
}

func missingNames(expected, found []string) []string {
	have := make(map[string]struct{}, len(found))
	for _, f := range found {
		have[f] = struct{}{}
	}
	var missing []string
	for _, e := range expected {
		if _, ok := have[e]; !ok {
			missing = append(missing, e)
		}
	}
	sort.Strings(missing)
	return missing
}

// Summary returns a one-line description of b.
func (b *ResultBundle) Summary() string {
	parts := []string{
		fmt.Sprintf("%s=%d", KeyCoverageMap, len(b.CoverageMap)),
		fmt.Sprintf("%s=%d", KeyRateMap, len(b.RateMap)),
		fmt.Sprintf("%s=%d", KeyProductionRateMap, len(b.ProductionRateMap)),
		fmt.Sprintf("log=%dB", len(b.Log)),
	}
	return strings.Join(parts, " ")
}
