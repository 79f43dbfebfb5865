package catmap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quatton/catmap-adapter/pkg/folder"
	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

const thermalParams = `
electrocatal: false
energies: energies.txt
rxn_expressions:
  - '*_s + CO_g -> CO*'
  - '2*_s + O2_g <-> O-O* + *_s -> 2O*'
  - 'CO* +  O* <-> O-CO* + * -> CO2_g + 2*'
surface_names: [Pt, Ag, Cu, Rh, Pd, Au, Ru, Ni]
descriptor_names: [O_s, CO_s]
descriptor_ranges: [[-1, 3], [-0.5, 4]]
resolution: 30
temperature: 500
species_definitions:
  CO_g: {pressure: 1.}
  O2_g: {pressure: 0.3333333333333333}
  CO2_g: {pressure: 0}
  s: {site_names: ['111'], total: 1}
gas_thermo_mode: shomate_gas
adsorbate_thermo_mode: frozen_adsorbate
scaling_constraint_dict:
  O_s: ['+', 0, null]
  CO_s: [0, '+', null]
  O-CO_s: initial_state
  O-O_s: final_state
decimal_precision: 150
numerical_solver: coverages
tolerance: 1e-20
max_rootfinding_iterations: 100
max_bisections: 3
`

const thermalModel = `scaler = 'GeneralizedLinearScaler'
rxn_expressions = ['*_s + CO_g -> CO*', '2*_s + O2_g <-> O-O* + *_s -> 2O*', 'CO* +  O* <-> O-CO* + * -> CO2_g + 2*']
surface_names = ['Pt', 'Ag', 'Cu', 'Rh', 'Pd', 'Au', 'Ru', 'Ni']
descriptor_names = ['O_s', 'CO_s']
descriptor_ranges = [[-1, 3], [-0.5, 4]]
resolution = 30
temperature = 500.0
species_definitions = {'CO_g': {'pressure': 1.0}, 'O2_g': {'pressure': 0.3333333333333333}, 'CO2_g': {'pressure': 0}, 's': {'site_names': ['111'], 'total': 1}}
data_file = 'aiida.pickle'
input_file = 'energies.txt'
gas_thermo_mode = 'shomate_gas'
adsorbate_thermo_mode = 'frozen_adsorbate'
scaling_constraint_dict = {'O_s': ['+', 0, None], 'CO_s': [0, '+', None], 'O-CO_s': 'initial_state', 'O-O_s': 'final_state'}
decimal_precision = 150
tolerance = 1e-20
max_rootfinding_iterations = 100
max_bisections = 3
numerical_solver = 'coverages'
`

var electroKeys = []string{
	"voltage", "pH", "beta", "potential_reference_scale", "extrapolated_potential",
	"voltage_diff_drop", "sigma_input", "Upzc", "electrochemical_thermo_mode",
}

func mustDecode(t *testing.T, src string) *RunParameters {
	t.Helper()
	p, err := DecodeParameters([]byte(src))
	require.NoError(t, err)
	return p
}

func assignedNames(model string) []string {
	var names []string
	for _, line := range strings.Split(strings.TrimSuffix(model, "\n"), "\n") {
		name, _, _ := strings.Cut(line, " = ")
		names = append(names, name)
	}
	return names
}

func TestPrepareThermal(t *testing.T) {
	var logs bytes.Buffer
	calc := NewCalculation(qlog.NewLogger(slog.LevelDebug, &logs))
	sandbox := &folder.Memory{}

	info, err := calc.Prepare(context.Background(), mustDecode(t, thermalParams), sandbox)
	require.NoError(t, err)

	model, ok := sandbox.Bytes("aiida.mkm")
	require.True(t, ok)
	assert.Equal(t, thermalModel, string(model))
	assert.Contains(t, string(model), "temperature = 500")
	for _, key := range electroKeys {
		assert.NotContains(t, assignedNames(string(model)), key)
	}

	driver, ok := sandbox.Bytes("mkm_job.py")
	require.True(t, ok)
	assert.Equal(t, "from catmap import ReactionModel\n"+
		"mkm_file = 'aiida.mkm'\n"+
		"model = ReactionModel(setup_file=mkm_file)\n"+
		"model.output_variables += ['production_rate']\n"+
		"model.run()\n", string(driver))

	assert.Equal(t, CodeInfo{StdinName: "mkm_job.py", StdoutName: "aiida.out"}, info.Code)
	assert.Equal(t, []folder.CopySpec{{Source: "energies.txt", Target: "energies.txt"}}, info.LocalCopyList)
	assert.Equal(t, []string{"aiida.out", "aiida.pickle"}, info.RetrieveList)
	assert.Equal(t, ExpectedOutputs{StdoutName: "aiida.out", DataFile: "aiida.pickle"}, info.Outputs())
	assert.Contains(t, logs.String(), "Wrote input file")
}

func TestPrepareThermalIgnoresElectroFields(t *testing.T) {
	var logs bytes.Buffer
	calc := NewCalculation(qlog.NewLogger(slog.LevelDebug, &logs))
	sandbox := &folder.Memory{}

	params := mustDecode(t, thermalParams+`voltage: -0.5
pH: 7
beta: 0.45
sigma_input: [CH, 0]
electrochemical_thermo_mode: [simple_electrochemical]
`)
	_, err := calc.Prepare(context.Background(), params, sandbox)
	require.NoError(t, err)

	model, ok := sandbox.Bytes("aiida.mkm")
	require.True(t, ok)
	assert.Equal(t, thermalModel, string(model))
	names := assignedNames(string(model))
	for _, key := range electroKeys {
		assert.NotContains(t, names, key)
	}

	out := logs.String()
	assert.Contains(t, out, "Ignoring electrochemistry fields for thermal run")
	for _, key := range []string{"voltage", "pH", "beta", "sigma_input", "electrochemical_thermo_mode"} {
		assert.Contains(t, out, key)
	}
}

func TestPrepareMinimalRoundTripExample(t *testing.T) {
	p := mustDecode(t, `
electrocatal: false
energies: /data/energies.txt
rxn_expressions: ['*_s + CO_g -> CO*']
surface_names: [Pt]
descriptor_names: [O_s, CO_s]
descriptor_ranges: [[-1, 3], [-0.5, 4]]
resolution: 1
temperature: 500
species_definitions: {}
gas_thermo_mode: shomate_gas
adsorbate_thermo_mode: frozen_adsorbate
decimal_precision: 100
tolerance: 1e-25
max_rootfinding_iterations: 50
max_bisections: 0
`)
	sandbox := &folder.Memory{}
	info, err := NewCalculation(nil).Prepare(context.Background(), p, sandbox)
	require.NoError(t, err)

	model, _ := sandbox.Bytes("aiida.mkm")
	lines := strings.Split(string(model), "\n")
	assert.Contains(t, lines, "resolution = 1")
	assert.Contains(t, lines, "temperature = 500.0")
	assert.Contains(t, lines, "input_file = 'energies.txt'")
	assert.Contains(t, lines, "scaling_constraint_dict = {}")
	assert.Contains(t, lines, "max_bisections = 0")
	assert.NotContains(t, string(model), "voltage =")
	assert.Equal(t, "/data/energies.txt", info.LocalCopyList[0].Source)
}

func electroParams(t *testing.T, scaler string) *RunParameters {
	p := mustDecode(t, thermalParams)
	p.Electrocatalysis = nil
	p.Scaler = scaler
	p.ElectrochemicalThermoMode = []string{"simple_electrochemical", "hbond_electrochemical"}
	return p
}

func ptr[T any](v T) *T { return &v }

func TestPrepareGeneralizedLinear(t *testing.T) {
	p := electroParams(t, GeneralizedLinearScaler)
	p.Voltage = ptr(-0.5)
	p.PH = ptr(7.0)

	sandbox := &folder.Memory{}
	_, err := NewCalculation(nil).Prepare(context.Background(), p, sandbox)
	require.NoError(t, err)

	model, _ := sandbox.Bytes("aiida.mkm")
	names := assignedNames(string(model))
	assert.Equal(t, []string{
		"scaler", "rxn_expressions", "surface_names", "descriptor_names", "descriptor_ranges",
		"resolution", "temperature", "species_definitions", "data_file", "input_file",
		"gas_thermo_mode", "adsorbate_thermo_mode", "scaling_constraint_dict",
		"voltage", "pH", "beta",
		"electrochemical_thermo_mode", "electrochemical_thermo_mode",
		"decimal_precision", "tolerance", "max_rootfinding_iterations", "max_bisections", "numerical_solver",
	}, names)

	text := string(model)
	assert.Contains(t, text, "voltage = -0.5\npH = 7.0\nbeta = 0.5\n")
	assert.Contains(t, text, "electrochemical_thermo_mode = 'simple_electrochemical'\nelectrochemical_thermo_mode = 'hbond_electrochemical'\n")
	for _, key := range []string{"potential_reference_scale", "extrapolated_potential", "voltage_diff_drop", "sigma_input", "Upzc"} {
		assert.NotContains(t, names, key)
	}
}

func TestPrepareOtherScaler(t *testing.T) {
	p := electroParams(t, "ThermodynamicScaler")
	p.Beta = ptr(0.45)
	p.Upzc = ptr(0.1)

	sandbox := &folder.Memory{}
	_, err := NewCalculation(nil).Prepare(context.Background(), p, sandbox)
	require.NoError(t, err)

	model, _ := sandbox.Bytes("aiida.mkm")
	text := string(model)
	assert.Contains(t, text, "scaler = 'ThermodynamicScaler'\n")
	assert.Contains(t, text, "potential_reference_scale = 'SHE'\n"+
		"extrapolated_potential = 0.0\n"+
		"voltage_diff_drop = 0.0\n"+
		"sigma_input = ['CH', 0]\n"+
		"Upzc = 0.1\n"+
		"beta = 0.45\n")
	names := assignedNames(text)
	assert.NotContains(t, names, "voltage")
	assert.NotContains(t, names, "pH")
}

func TestPrepareValidationWritesNothing(t *testing.T) {
	p := electroParams(t, GeneralizedLinearScaler)
	p.PH = ptr(7.0)

	sandbox := &folder.Memory{}
	_, err := NewCalculation(nil).Prepare(context.Background(), p, sandbox)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "voltage is required for electrocatalysis with GeneralizedLinearScaler")
	assert.True(t, qerr.IsCode(err, qerr.CodeValidation))

	names, _ := sandbox.ListObjectNames(context.Background())
	assert.Empty(t, names)
}

func TestResolveCollectsProblems(t *testing.T) {
	_, err := (&RunParameters{Electrocatalysis: ptr(false)}).Resolve()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "energies is required")
	assert.Contains(t, verr.Problems, "descriptor_names must have exactly 2 entries, got 0")
	assert.Contains(t, verr.Problems, "resolution is required")
	assert.Contains(t, verr.Problems, "max_bisections is required")

	p := mustDecode(t, thermalParams)
	p.Electrocatalysis = ptr(true)
	_, err = p.Resolve()
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "electrochemical_thermo_mode is required for electrocatalysis")
}

func TestResolveRejectsNonFinite(t *testing.T) {
	cases := map[string]struct {
		params  func(t *testing.T) *RunParameters
		problem string
	}{
		"temperature": {
			func(t *testing.T) *RunParameters {
				return mustDecode(t, strings.Replace(thermalParams, "temperature: 500", "temperature: .inf", 1))
			},
			"temperature must be finite, got +Inf",
		},
		"tolerance": {
			func(t *testing.T) *RunParameters {
				return mustDecode(t, strings.Replace(thermalParams, "tolerance: 1e-20", "tolerance: .nan", 1))
			},
			"tolerance must be finite, got NaN",
		},
		"pressure": {
			func(t *testing.T) *RunParameters {
				return mustDecode(t, strings.Replace(thermalParams, "CO_g: {pressure: 1.}", "CO_g: {pressure: .inf}", 1))
			},
			"species_definitions must not contain inf or nan",
		},
		"descriptor range": {
			func(t *testing.T) *RunParameters {
				return mustDecode(t, strings.Replace(thermalParams, "[-0.5, 4]", "[-0.5, .inf]", 1))
			},
			"descriptor_ranges[1] must be finite",
		},
		"voltage": {
			func(t *testing.T) *RunParameters {
				p := electroParams(t, GeneralizedLinearScaler)
				p.Voltage = ptr(math.Inf(-1))
				p.PH = ptr(7.0)
				return p
			},
			"voltage must be finite, got -Inf",
		},
		"Upzc": {
			func(t *testing.T) *RunParameters {
				p := electroParams(t, "ThermodynamicScaler")
				p.Upzc = ptr(math.NaN())
				return p
			},
			"Upzc must be finite, got NaN",
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.params(t).Resolve()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Problems, c.problem)
			assert.True(t, qerr.IsCode(err, qerr.CodeValidation))
		})
	}
}

func TestResolveDefaultsToElectrocatalysis(t *testing.T) {
	p := mustDecode(t, thermalParams)
	p.Electrocatalysis = nil
	p.Voltage = ptr(0.0)
	p.PH = ptr(0.0)
	p.ElectrochemicalThermoMode = []string{"simple_electrochemical"}

	job, err := p.Resolve()
	require.NoError(t, err)
	gl, ok := job.Electrochemistry.(GeneralizedLinear)
	require.True(t, ok)
	assert.Equal(t, 0.5, gl.Beta)
}

func TestPrepareRejectsNameClash(t *testing.T) {
	calc := NewCalculation(nil)
	calc.OutputFilename = "aiida.pickle"
	_, err := calc.Prepare(context.Background(), mustDecode(t, thermalParams), &folder.Memory{})
	assert.True(t, qerr.IsCode(err, qerr.CodeValidation))
}

func TestDecodeParametersJSONMatchesYAML(t *testing.T) {
	j := mustDecode(t, `{
		"electrocatal": false,
		"energies": "energies.txt",
		"rxn_expressions": ["*_s + CO_g -> CO*", "2*_s + O2_g <-> O-O* + *_s -> 2O*", "CO* +  O* <-> O-CO* + * -> CO2_g + 2*"],
		"surface_names": ["Pt", "Ag", "Cu", "Rh", "Pd", "Au", "Ru", "Ni"],
		"descriptor_names": ["O_s", "CO_s"],
		"descriptor_ranges": [[-1, 3], [-0.5, 4]],
		"resolution": 30,
		"temperature": 500,
		"species_definitions": {"CO_g": {"pressure": 1.0}, "O2_g": {"pressure": 0.3333333333333333}, "CO2_g": {"pressure": 0}, "s": {"site_names": ["111"], "total": 1}},
		"gas_thermo_mode": "shomate_gas",
		"adsorbate_thermo_mode": "frozen_adsorbate",
		"scaling_constraint_dict": {"O_s": ["+", 0, null], "CO_s": [0, "+", null], "O-CO_s": "initial_state", "O-O_s": "final_state"},
		"decimal_precision": 150,
		"numerical_solver": "coverages",
		"tolerance": 1e-20,
		"max_rootfinding_iterations": 100,
		"max_bisections": 3
	}`)
	job, err := j.Resolve()
	require.NoError(t, err)
	assert.Equal(t, thermalModel, string(RenderModel(job)))
}

func TestDecodeParametersRejectsUnknownKeys(t *testing.T) {
	_, err := DecodeParameters([]byte("resolution: 3\nresolutoin: 4\n"))
	assert.Error(t, err)
	_, err = DecodeParameters([]byte(`{"resolutoin": 4}`))
	assert.Error(t, err)
	_, err = DecodeParameters([]byte("descriptor_ranges: [[a, 1], [0, 1]]\n"))
	assert.Error(t, err)
}
