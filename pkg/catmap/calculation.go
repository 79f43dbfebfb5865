package catmap

import (
	"context"
	"fmt"

	"github.com/quatton/catmap-adapter/pkg/folder"
	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

const (
	DefaultInputFilename  = "mkm_job.py"
	DefaultOutputFilename = "aiida.out"
)

// CodeInfo describes how the interpreter is invoked in the sandbox.
type CodeInfo struct {
	StdinName  string `json:"stdin_name"`
	StdoutName string `json:"stdout_name"`
	WithMPI    bool   `json:"with_mpi"`
}

// CalcInfo is the manifest returned by Prepare.
type CalcInfo struct {
	Code          CodeInfo          `json:"code"`
	LocalCopyList []folder.CopySpec `json:"local_copy_list"`
	RetrieveList  []string          `json:"retrieve_list"`
	// DataFile is the pickle CatMAP writes; it is also in RetrieveList.
	DataFile string `json:"data_file"`
	// MkmFilename is the model file written to the sandbox.
	MkmFilename string `json:"mkm_filename"`
}

// Outputs returns what the parser should expect after the run.
func (c *CalcInfo) Outputs() ExpectedOutputs {
	return ExpectedOutputs{StdoutName: c.Code.StdoutName, DataFile: c.DataFile}
}

// Calculation writes CatMAP inputs into a sandbox.
type Calculation struct {
	InputFilename  string
	OutputFilename string
	WithMPI        bool
	Logger         *qlog.Logger
}

// NewCalculation returns a Calculation with the default file names.
func NewCalculation(logger *qlog.Logger) *Calculation {
	return &Calculation{
		InputFilename:  DefaultInputFilename,
		OutputFilename: DefaultOutputFilename,
		Logger:         logger,
	}
}

// Prepare validates params and writes the model file and driver script into
// sandbox. Nothing is written when validation fails.
func (c *Calculation) Prepare(ctx context.Context, params *RunParameters, sandbox folder.Sandbox) (*CalcInfo, error) {
	job, err := params.Resolve()
	if err != nil {
		return nil, err
	}
	if job.Electrochemistry == nil {
		if ignored := params.ElectroFieldsSet(); len(ignored) > 0 {
			c.logger().Debug("Ignoring electrochemistry fields for thermal run", "fields", ignored)
		}
	}
	return c.PrepareJob(ctx, job, sandbox)
}

// PrepareJob writes the inputs of an already resolved job.
func (c *Calculation) PrepareJob(ctx context.Context, job *Job, sandbox folder.Sandbox) (*CalcInfo, error) {
	driver := orDefault(c.InputFilename, DefaultInputFilename)
	capture := orDefault(c.OutputFilename, DefaultOutputFilename)

	names := map[string]string{}
	var bad problems
	for _, f := range []struct{ role, name string }{
		{"driver script", driver},
		{"stdout capture", capture},
		{"model file", job.MkmFilename},
		{"data file", job.DataFile},
		{"energies table", job.InputFile()},
	} {
		if other, ok := names[f.name]; ok {
			bad.addf("%s and %s share the name %q", other, f.role, f.name)
		}
		names[f.name] = f.role
	}
	if len(bad) > 0 {
		return nil, qerr.New(qerr.CodeValidation, &ValidationError{Problems: bad})
	}

	files := []struct {
		name string
		data []byte
	}{
		{job.MkmFilename, RenderModel(job)},
		{driver, RenderDriver(job.MkmFilename)},
	}
	for _, f := range files {
		if err := folder.WriteFile(ctx, sandbox, f.name, f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
		c.logger().Debug("Wrote input file", "name", f.name, "bytes", len(f.data))
	}

	return &CalcInfo{
		Code: CodeInfo{
			StdinName:  driver,
			StdoutName: capture,
			WithMPI:    c.WithMPI,
		},
		LocalCopyList: []folder.CopySpec{
			{Source: job.EnergiesPath, Target: job.InputFile()},
		},
		RetrieveList: []string{capture, job.DataFile},
		DataFile:     job.DataFile,
		MkmFilename:  job.MkmFilename,
	}, nil
}

func (c *Calculation) logger() *qlog.Logger {
	if c.Logger == nil {
		return qlog.NewDiscard()
	}
	return c.Logger
}
