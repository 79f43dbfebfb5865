package catmap

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/quatton/catmap-adapter/pkg/pyrepr"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

// Job is a validated, defaulted RunParameters. It is what the model file
// is rendered from.
type Job struct {
	Scaler                string
	RxnExpressions        []string
	SurfaceNames          []string
	DescriptorNames       []string
	DescriptorRanges      []DescriptorRange
	Resolution            int
	Temperature           float64
	SpeciesDefinitions    *pyrepr.Dict
	DataFile              string
	EnergiesPath          string
	GasThermoMode         string
	AdsorbateThermoMode   string
	ScalingConstraintDict *pyrepr.Dict

	// Electrochemistry is nil for thermal catalysis.
	Electrochemistry Electrochemistry

	DecimalPrecision         int
	Tolerance                float64
	MaxRootfindingIterations int
	MaxBisections            int
	NumericalSolver          string

	MkmFilename string
}

// InputFile is the name CatMAP reads the energies table from.
func (j *Job) InputFile() string {
	return filepath.Base(j.EnergiesPath)
}

// Electrochemistry holds the settings of an electrocatalysis run. It is
// either GeneralizedLinear or OtherScaler.
type Electrochemistry interface {
	common() ElectroCommon
}

// ElectroCommon is shared by both electrochemistry variants.
type ElectroCommon struct {
	Beta        float64
	ThermoModes []string
}

func (c ElectroCommon) common() ElectroCommon { return c }

// GeneralizedLinear is used with GeneralizedLinearScaler.
type GeneralizedLinear struct {
	Voltage float64
	PH      float64
	ElectroCommon
}

// OtherScaler is used with any scaler other than GeneralizedLinearScaler.
type OtherScaler struct {
	PotentialReferenceScale string
	ExtrapolatedPotential   float64
	VoltageDiffDrop         float64
	SigmaInput              pyrepr.List
	Upzc                    float64
	ElectroCommon
}

// ValidationError lists every problem found in a RunParameters.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid run parameters: " + strings.Join(e.Problems, "; ")
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

// Resolve applies defaults, validates the parameters and selects the
// electrochemistry variant. Failures are qerr.CodeValidation errors that
// unwrap to *ValidationError.
func (p *RunParameters) Resolve() (*Job, error) {
	var bad problems

	job := &Job{
		Scaler:                orDefault(p.Scaler, GeneralizedLinearScaler),
		RxnExpressions:        p.RxnExpressions,
		SurfaceNames:          p.SurfaceNames,
		DescriptorNames:       p.DescriptorNames,
		DescriptorRanges:      p.DescriptorRanges,
		SpeciesDefinitions:    p.SpeciesDefinitions,
		EnergiesPath:          p.Energies,
		GasThermoMode:         p.GasThermoMode,
		AdsorbateThermoMode:   p.AdsorbateThermoMode,
		ScalingConstraintDict: p.ScalingConstraintDict,
		NumericalSolver:       orDefault(p.NumericalSolver, DefaultNumericalSolver),
		MkmFilename:           orDefault(p.MkmFilename, DefaultMkmFilename),
		DataFile:              orDefault(p.DataFile, DefaultDataFile),
	}
	if job.ScalingConstraintDict == nil {
		job.ScalingConstraintDict = pyrepr.NewDict()
	}

	if p.Energies == "" {
		bad.addf("energies is required")
	}
	if len(p.RxnExpressions) == 0 {
		bad.addf("rxn_expressions must not be empty")
	}
	if len(p.SurfaceNames) == 0 {
		bad.addf("surface_names must not be empty")
	}
	if len(p.DescriptorNames) != 2 {
		bad.addf("descriptor_names must have exactly 2 entries, got %d", len(p.DescriptorNames))
	}
	if len(p.DescriptorRanges) != 2 {
		bad.addf("descriptor_ranges must have exactly 2 entries, got %d", len(p.DescriptorRanges))
	}
	for i, r := range p.DescriptorRanges {
		if r[0] == nil || r[1] == nil {
			bad.addf("descriptor_ranges[%d] must be a [low, high] pair", i)
		} else if !isFinite(r[0].Float64()) || !isFinite(r[1].Float64()) {
			bad.addf("descriptor_ranges[%d] must be finite", i)
		}
	}
	if p.SpeciesDefinitions == nil {
		bad.addf("species_definitions is required")
	} else if pyrepr.HasNonFinite(p.SpeciesDefinitions) {
		bad.addf("species_definitions must not contain inf or nan")
	}
	if p.ScalingConstraintDict != nil && pyrepr.HasNonFinite(p.ScalingConstraintDict) {
		bad.addf("scaling_constraint_dict must not contain inf or nan")
	}
	if p.GasThermoMode == "" {
		bad.addf("gas_thermo_mode is required")
	}
	if p.AdsorbateThermoMode == "" {
		bad.addf("adsorbate_thermo_mode is required")
	}

	job.Resolution = requirePositiveInt(&bad, "resolution", p.Resolution)
	job.DecimalPrecision = requirePositiveInt(&bad, "decimal_precision", p.DecimalPrecision)
	job.MaxRootfindingIterations = requirePositiveInt(&bad, "max_rootfinding_iterations", p.MaxRootfindingIterations)
	if p.MaxBisections == nil {
		bad.addf("max_bisections is required")
	} else if *p.MaxBisections < 0 {
		bad.addf("max_bisections must not be negative")
	} else {
		job.MaxBisections = *p.MaxBisections
	}
	job.Temperature = requirePositiveFloat(&bad, "temperature", p.Temperature)
	job.Tolerance = requirePositiveFloat(&bad, "tolerance", p.Tolerance)

	for _, name := range []struct{ key, value string }{
		{"mkm_filename", job.MkmFilename},
		{"data_file", job.DataFile},
	} {
		if filepath.Base(name.value) != name.value {
			bad.addf("%s must be a plain file name, got %q", name.key, name.value)
		}
	}
	if job.MkmFilename == job.DataFile {
		bad.addf("mkm_filename and data_file must differ")
	}

	if p.Electrocatalysis == nil || *p.Electrocatalysis {
		job.Electrochemistry = p.resolveElectrochemistry(&bad, job.Scaler)
	}

	if len(bad) > 0 {
		return nil, qerr.New(qerr.CodeValidation, &ValidationError{Problems: bad})
	}
	return job, nil
}

func (p *RunParameters) resolveElectrochemistry(bad *problems, scaler string) Electrochemistry {
	common := ElectroCommon{
		Beta:        finiteOr(bad, "beta", p.Beta, DefaultBeta),
		ThermoModes: p.ElectrochemicalThermoMode,
	}
	if len(common.ThermoModes) == 0 {
		bad.addf("electrochemical_thermo_mode is required for electrocatalysis")
	}

	if scaler == GeneralizedLinearScaler {
		if p.Voltage == nil {
			bad.addf("voltage is required for electrocatalysis with %s", GeneralizedLinearScaler)
		}
		if p.PH == nil {
			bad.addf("pH is required for electrocatalysis with %s", GeneralizedLinearScaler)
		}
		return GeneralizedLinear{
			Voltage:       finiteOr(bad, "voltage", p.Voltage, 0),
			PH:            finiteOr(bad, "pH", p.PH, 0),
			ElectroCommon: common,
		}
	}

	sigma := p.SigmaInput
	if pyrepr.HasNonFinite(sigma) {
		bad.addf("sigma_input must not contain inf or nan")
	}
	if sigma == nil {
		sigma = pyrepr.List{pyrepr.Str("CH"), pyrepr.Int(0)}
	}
	scale := DefaultPotentialScale
	if p.PotentialReferenceScale != nil {
		scale = *p.PotentialReferenceScale
	}
	return OtherScaler{
		PotentialReferenceScale: scale,
		ExtrapolatedPotential:   finiteOr(bad, "extrapolated_potential", p.ExtrapolatedPotential, 0),
		VoltageDiffDrop:         finiteOr(bad, "voltage_diff_drop", p.VoltageDiffDrop, 0),
		SigmaInput:              sigma,
		Upzc:                    finiteOr(bad, "Upzc", p.Upzc, 0),
		ElectroCommon:           common,
	}
}

// ElectroFieldsSet lists the electrochemistry keys that were given. Used to
// report fields that a thermal run ignores.
func (p *RunParameters) ElectroFieldsSet() []string {
	var set []string
	add := func(name string, present bool) {
		if present {
			set = append(set, name)
		}
	}
	add("voltage", p.Voltage != nil)
	add("pH", p.PH != nil)
	add("beta", p.Beta != nil)
	add("potential_reference_scale", p.PotentialReferenceScale != nil)
	add("extrapolated_potential", p.ExtrapolatedPotential != nil)
	add("voltage_diff_drop", p.VoltageDiffDrop != nil)
	add("sigma_input", p.SigmaInput != nil)
	add("Upzc", p.Upzc != nil)
	add("electrochemical_thermo_mode", len(p.ElectrochemicalThermoMode) > 0)
	return set
}

func requirePositiveInt(bad *problems, key string, v *int) int {
	switch {
	case v == nil:
		bad.addf("%s is required", key)
	case *v <= 0:
		bad.addf("%s must be positive, got %d", key, *v)
	default:
		return *v
	}
	return 0
}

func requirePositiveFloat(bad *problems, key string, v *float64) float64 {
	switch {
	case v == nil:
		bad.addf("%s is required", key)
	case !isFinite(*v):
		bad.addf("%s must be finite, got %v", key, *v)
	case *v <= 0:
		bad.addf("%s must be positive, got %v", key, *v)
	default:
		return *v
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// finiteOr returns *v, or def when v is nil. inf and nan are reported
// since they have no Python literal.
func finiteOr(bad *problems, key string, v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	if !isFinite(*v) {
		bad.addf("%s must be finite, got %v", key, *v)
		return def
	}
	return *v
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
