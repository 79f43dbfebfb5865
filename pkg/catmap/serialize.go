package catmap

import (
	"fmt"
	"strings"

	"github.com/quatton/catmap-adapter/pkg/pyrepr"
)

// setting is one `name = literal` line of the model file.
type setting struct {
	name  string
	value pyrepr.Value
}

// modelSettings returns the model file lines in the order CatMAP expects
// them: reaction conditions, electrochemistry, numerics.
func modelSettings(job *Job) []setting {
	settings := []setting{
		{"scaler", pyrepr.Str(job.Scaler)},
		{"rxn_expressions", strList(job.RxnExpressions)},
		{"surface_names", strList(job.SurfaceNames)},
		{"descriptor_names", strList(job.DescriptorNames)},
		{"descriptor_ranges", rangeList(job.DescriptorRanges)},
		{"resolution", pyrepr.Int(job.Resolution)},
		{"temperature", pyrepr.Float(job.Temperature)},
		{"species_definitions", job.SpeciesDefinitions},
		{"data_file", pyrepr.Str(job.DataFile)},
		{"input_file", pyrepr.Str(job.InputFile())},
		{"gas_thermo_mode", pyrepr.Str(job.GasThermoMode)},
		{"adsorbate_thermo_mode", pyrepr.Str(job.AdsorbateThermoMode)},
		{"scaling_constraint_dict", job.ScalingConstraintDict},
	}

	switch ec := job.Electrochemistry.(type) {
	case GeneralizedLinear:
		settings = append(settings,
			setting{"voltage", pyrepr.Float(ec.Voltage)},
			setting{"pH", pyrepr.Float(ec.PH)},
		)
	case OtherScaler:
		settings = append(settings,
			setting{"potential_reference_scale", pyrepr.Str(ec.PotentialReferenceScale)},
			setting{"extrapolated_potential", pyrepr.Float(ec.ExtrapolatedPotential)},
			setting{"voltage_diff_drop", pyrepr.Float(ec.VoltageDiffDrop)},
			setting{"sigma_input", ec.SigmaInput},
			setting{"Upzc", pyrepr.Float(ec.Upzc)},
		)
	}
	if job.Electrochemistry != nil {
		common := job.Electrochemistry.common()
		settings = append(settings, setting{"beta", pyrepr.Float(common.Beta)})
		// one line per mode, the last assignment wins
		for _, mode := range common.ThermoModes {
			settings = append(settings, setting{"electrochemical_thermo_mode", pyrepr.Str(mode)})
		}
	}

	return append(settings,
		setting{"decimal_precision", pyrepr.Int(job.DecimalPrecision)},
		setting{"tolerance", pyrepr.Float(job.Tolerance)},
		setting{"max_rootfinding_iterations", pyrepr.Int(job.MaxRootfindingIterations)},
		setting{"max_bisections", pyrepr.Int(job.MaxBisections)},
		setting{"numerical_solver", pyrepr.Str(job.NumericalSolver)},
	)
}

// RenderModel returns the content of the CatMAP setup file for job.
func RenderModel(job *Job) []byte {
	var b strings.Builder
	for _, s := range modelSettings(job) {
		fmt.Fprintf(&b, "%s = %s\n", s.name, pyrepr.Repr(s.value))
	}
	return []byte(b.String())
}

// RenderDriver returns the script fed to the Python interpreter. It loads
// mkmFilename and asks for production rates on top of the defaults.
func RenderDriver(mkmFilename string) []byte {
	var b strings.Builder
	b.WriteString("from catmap import ReactionModel\n")
	fmt.Fprintf(&b, "mkm_file = %s\n", pyrepr.Repr(pyrepr.Str(mkmFilename)))
	b.WriteString("model = ReactionModel(setup_file=mkm_file)\n")
	b.WriteString("model.output_variables += ['production_rate']\n")
	b.WriteString("model.run()\n")
	return []byte(b.String())
}

func strList(items []string) pyrepr.List {
	l := make(pyrepr.List, len(items))
	for i, s := range items {
		l[i] = pyrepr.Str(s)
	}
	return l
}

func rangeList(ranges []DescriptorRange) pyrepr.List {
	l := make(pyrepr.List, len(ranges))
	for i, r := range ranges {
		l[i] = r.value()
	}
	return l
}
