package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/folder"
	"github.com/quatton/catmap-adapter/pkg/qapi/schemas"
	"github.com/quatton/catmap-adapter/pkg/qapi/services"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

// PrepareInputsInput carries run parameters as YAML or JSON.
type PrepareInputsInput struct {
	RawBody []byte
}

type PrepareInputsOutput struct {
	Body schemas.PrepareResponse
}

func RegisterInputs(api huma.API, svcs *services.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "prepare-inputs",
		Method:      http.MethodPost,
		Path:        "/api/inputs",
		Summary:     "Render input files",
		Description: "Validate run parameters and return the model file, driver script and manifest without running anything",
		Tags:        []string{TagInputs.String()},
	}, func(ctx context.Context, input *PrepareInputsInput) (*PrepareInputsOutput, error) {
		params, err := catmap.DecodeParameters(input.RawBody)
		if err != nil {
			return nil, apiError(qerr.New(qerr.CodeValidation, err))
		}

		calc := catmap.NewCalculation(nil)
		if svcs != nil && svcs.Pipeline != nil && svcs.Pipeline.Calculation != nil {
			calc = svcs.Pipeline.Calculation
		}

		sandbox := &folder.Memory{}
		info, err := calc.Prepare(ctx, params, sandbox)
		if err != nil {
			return nil, apiError(err)
		}

		names, err := sandbox.ListObjectNames(ctx)
		if err != nil {
			return nil, apiError(err)
		}
		resp := &PrepareInputsOutput{}
		resp.Body.Files = make(map[string]string, len(names))
		for _, name := range names {
			data, _ := sandbox.Bytes(name)
			resp.Body.Files[name] = string(data)
		}
		resp.Body.Manifest = toManifest(info)
		return resp, nil
	})
}

func toManifest(info *catmap.CalcInfo) schemas.Manifest {
	m := schemas.Manifest{
		Code: schemas.CodeInfo{
			StdinName:  info.Code.StdinName,
			StdoutName: info.Code.StdoutName,
			WithMPI:    info.Code.WithMPI,
		},
		RetrieveList: info.RetrieveList,
		DataFile:     info.DataFile,
		MkmFilename:  info.MkmFilename,
	}
	for _, c := range info.LocalCopyList {
		m.LocalCopyList = append(m.LocalCopyList, schemas.CopySpec{Source: c.Source, Target: c.Target})
	}
	return m
}
