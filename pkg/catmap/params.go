package catmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/quatton/catmap-adapter/pkg/pyrepr"
)

const (
	GeneralizedLinearScaler = "GeneralizedLinearScaler"

	DefaultMkmFilename     = "aiida.mkm"
	DefaultDataFile        = "aiida.pickle"
	DefaultNumericalSolver = "coverages"
	DefaultPotentialScale  = "SHE"
	DefaultBeta            = 0.5
)

// RunParameters is the flat input set of one CatMAP run. Pointer fields
// distinguish "absent" from a zero value; Resolve applies defaults and
// validates the combination.
type RunParameters struct {
	Electrocatalysis *bool  `yaml:"electrocatal" json:"electrocatal"`
	Scaler           string `yaml:"scaler" json:"scaler"`
	Energies         string `yaml:"energies" json:"energies"`

	RxnExpressions   []string          `yaml:"rxn_expressions" json:"rxn_expressions"`
	SurfaceNames     []string          `yaml:"surface_names" json:"surface_names"`
	DescriptorNames  []string          `yaml:"descriptor_names" json:"descriptor_names"`
	DescriptorRanges []DescriptorRange `yaml:"descriptor_ranges" json:"descriptor_ranges"`

	Resolution            *int         `yaml:"resolution" json:"resolution"`
	Temperature           *float64     `yaml:"temperature" json:"temperature"`
	SpeciesDefinitions    *pyrepr.Dict `yaml:"species_definitions" json:"species_definitions"`
	GasThermoMode         string       `yaml:"gas_thermo_mode" json:"gas_thermo_mode"`
	AdsorbateThermoMode   string       `yaml:"adsorbate_thermo_mode" json:"adsorbate_thermo_mode"`
	ScalingConstraintDict *pyrepr.Dict `yaml:"scaling_constraint_dict" json:"scaling_constraint_dict"`

	NumericalSolver          string   `yaml:"numerical_solver" json:"numerical_solver"`
	DecimalPrecision         *int     `yaml:"decimal_precision" json:"decimal_precision"`
	Tolerance                *float64 `yaml:"tolerance" json:"tolerance"`
	MaxRootfindingIterations *int     `yaml:"max_rootfinding_iterations" json:"max_rootfinding_iterations"`
	MaxBisections            *int     `yaml:"max_bisections" json:"max_bisections"`

	MkmFilename string `yaml:"mkm_filename" json:"mkm_filename"`
	DataFile    string `yaml:"data_file" json:"data_file"`

	// electrochemistry
	Voltage                   *float64    `yaml:"voltage" json:"voltage"`
	PH                        *float64    `yaml:"pH" json:"pH"`
	Beta                      *float64    `yaml:"beta" json:"beta"`
	PotentialReferenceScale   *string     `yaml:"potential_reference_scale" json:"potential_reference_scale"`
	ExtrapolatedPotential     *float64    `yaml:"extrapolated_potential" json:"extrapolated_potential"`
	VoltageDiffDrop           *float64    `yaml:"voltage_diff_drop" json:"voltage_diff_drop"`
	SigmaInput                pyrepr.List `yaml:"sigma_input" json:"sigma_input"`
	Upzc                      *float64    `yaml:"Upzc" json:"Upzc"`
	ElectrochemicalThermoMode []string    `yaml:"electrochemical_thermo_mode" json:"electrochemical_thermo_mode"`
}

// DescriptorRange is a [low, high] pair. The number kinds given by the user
// are kept so that [-1, 3] is written back as [-1, 3].
type DescriptorRange [2]pyrepr.Number

func (r DescriptorRange) value() pyrepr.Value {
	return pyrepr.List{r[0], r[1]}
}

func (r *DescriptorRange) set(v pyrepr.Value) error {
	var items []pyrepr.Value
	switch t := v.(type) {
	case pyrepr.List:
		items = t
	case pyrepr.Tuple:
		items = t
	default:
		return fmt.Errorf("descriptor range must be a [low, high] pair, got %s", pyrepr.Repr(v))
	}
	if len(items) != 2 {
		return fmt.Errorf("descriptor range must have 2 elements, got %d", len(items))
	}
	for i, item := range items {
		n, ok := pyrepr.AsNumber(item)
		if !ok {
			return fmt.Errorf("descriptor range bound %s is not a number", pyrepr.Repr(item))
		}
		r[i] = n
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *DescriptorRange) UnmarshalYAML(n *yaml.Node) error {
	v, err := pyrepr.FromYAML(n)
	if err != nil {
		return err
	}
	if err := r.set(v); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *DescriptorRange) UnmarshalJSON(data []byte) error {
	v, err := pyrepr.FromJSON(data)
	if err != nil {
		return err
	}
	return r.set(v)
}

// MarshalJSON implements json.Marshaler.
func (r DescriptorRange) MarshalJSON() ([]byte, error) {
	return r.value().(pyrepr.List).MarshalJSON()
}

// DecodeParameters reads RunParameters from YAML or JSON. JSON is detected
// by a leading '{'. Unknown keys are rejected.
func DecodeParameters(data []byte) (*RunParameters, error) {
	var p RunParameters
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
		return &p, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	return &p, nil
}

// LoadParameters reads a parameter file. A relative energies path is
// resolved against the directory of the parameter file.
func LoadParameters(path string) (*RunParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters: %w", err)
	}
	p, err := DecodeParameters(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Energies != "" && !filepath.IsAbs(p.Energies) {
		p.Energies = filepath.Join(filepath.Dir(path), p.Energies)
	}
	return p, nil
}
