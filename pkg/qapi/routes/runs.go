package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/quatton/catmap-adapter/pkg/archive"
	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/qapi/schemas"
	"github.com/quatton/catmap-adapter/pkg/qapi/services"
	"github.com/quatton/catmap-adapter/pkg/qart"
	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

// SubmitRunInput defines the input for submitting a run
type SubmitRunInput struct {
	Name    string `query:"name" doc:"Run name" required:"false"`
	RawBody []byte
}

// SubmitRunOutput is the response for submitting a run
type SubmitRunOutput struct {
	Body schemas.RunResponse
}

// RunIDInput addresses a single run
type RunIDInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// GetRunOutput is the response for getting a run
type GetRunOutput struct {
	Body schemas.RunResponse
}

// ListRunsInput defines the input for listing runs
type ListRunsInput struct {
	Status string `query:"status" doc:"Filter by status" required:"false" enum:"pending,running,succeeded,failed,cancelled"`
}

// ListRunsOutput is the response for listing runs
type ListRunsOutput struct {
	Body struct {
		Runs []schemas.RunResponse `json:"runs" doc:"List of runs"`
	}
}

// GetRunLogsOutput is the response for getting run logs
type GetRunLogsOutput struct {
	Body struct {
		Logs string `json:"logs" doc:"Captured stdout"`
	}
}

// GetOutcomeOutput is the response for getting a run's outcome
type GetOutcomeOutput struct {
	Body schemas.OutcomeResponse
}

// ListRunArtifactsOutput is the response for listing run artifacts
type ListRunArtifactsOutput struct {
	Body struct {
		Artifacts []schemas.RunArtifact `json:"artifacts" doc:"List of artifacts"`
	}
}

// GetArtifactURLInput defines the input for getting an artifact presigned URL
type GetArtifactURLInput struct {
	RunID    string `path:"runId" doc:"Run ID"`
	Filename string `path:"filename" doc:"Artifact filename"`
}

// GetArtifactURLOutput is the response for getting an artifact presigned URL
type GetArtifactURLOutput struct {
	Body struct {
		URL string `json:"url" doc:"Presigned download URL"`
	}
}

// RegisterRuns registers run-related routes
func RegisterRuns(api huma.API, svcs *services.Services) {
	unavailable := func() error {
		return huma.Error503ServiceUnavailable("runner not configured")
	}
	ready := svcs != nil && svcs.Pipeline != nil

	huma.Register(api, huma.Operation{
		OperationID:   "submit-run",
		Method:        http.MethodPost,
		Path:          "/api/runs",
		Summary:       "Submit a new run",
		Description:   "Prepare the inputs and start CatMAP locally. The outcome is archived when the run finishes.",
		Tags:          []string{TagRuns.String()},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SubmitRunInput) (*SubmitRunOutput, error) {
		if !ready {
			return nil, unavailable()
		}
		params, err := catmap.DecodeParameters(input.RawBody)
		if err != nil {
			return nil, apiError(qerr.New(qerr.CodeValidation, err))
		}

		// the process and its parser outlive the request
		bg := context.WithoutCancel(ctx)
		started, err := svcs.Pipeline.Start(bg, input.Name, params)
		if err != nil {
			return nil, apiError(err)
		}
		go func() {
			if _, err := svcs.Pipeline.Finish(bg, started); err != nil {
				svcs.Logger.Error("Failed to record run outcome", "run_id", started.Run.ID, "error", err)
			}
		}()

		return &SubmitRunOutput{Body: toRunResponse(started.Run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "Get a list of all runs, newest first",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
		resp := &ListRunsOutput{}
		resp.Body.Runs = []schemas.RunResponse{}
		if !ready {
			return resp, nil
		}

		var status *qrunner.RunStatus
		if input.Status != "" {
			s := qrunner.RunStatus(input.Status)
			status = &s
		}
		runs, err := svcs.Pipeline.Runner.ListRuns(ctx, status)
		if err != nil {
			return nil, apiError(err)
		}
		for _, run := range runs {
			resp.Body.Runs = append(resp.Body.Runs, toRunResponse(run))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}",
		Summary:     "Get run details",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *RunIDInput) (*GetRunOutput, error) {
		if !ready {
			return nil, unavailable()
		}
		run, err := svcs.Pipeline.Runner.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, apiError(err)
		}
		return &GetRunOutput{Body: toRunResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-run",
		Method:      http.MethodPost,
		Path:        "/api/runs/{runId}/cancel",
		Summary:     "Cancel a run",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *RunIDInput) (*struct{}, error) {
		if !ready {
			return nil, unavailable()
		}
		if err := svcs.Pipeline.Runner.Cancel(ctx, input.RunID); err != nil {
			if qerr.IsCode(err, qerr.CodeNotFound) {
				return nil, apiError(err)
			}
			return nil, huma.Error409Conflict(err.Error())
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-run",
		Method:      http.MethodDelete,
		Path:        "/api/runs/{runId}",
		Summary:     "Delete a run",
		Description: "Remove a finished run with its artifacts and outcome",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *RunIDInput) (*struct{}, error) {
		if !ready {
			return nil, unavailable()
		}
		if err := svcs.Pipeline.Delete(ctx, input.RunID); err != nil {
			if qerr.IsCode(err, qerr.CodeNotFound) {
				return nil, apiError(err)
			}
			return nil, huma.Error409Conflict(err.Error())
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-logs",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/logs",
		Summary:     "Get run logs",
		Description: "Get the stdout capture of a run",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *RunIDInput) (*GetRunLogsOutput, error) {
		if !ready {
			return nil, unavailable()
		}
		reader, err := svcs.Pipeline.Runner.GetLogs(ctx, input.RunID)
		if err != nil {
			return nil, apiError(err)
		}
		defer reader.Close()
		logs, err := io.ReadAll(reader)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to read logs: %v", err))
		}
		resp := &GetRunLogsOutput{}
		resp.Body.Logs = string(logs)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-outcome",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/outcome",
		Summary:     "Get run outcome",
		Description: "Get the parsed result tables, or the error code of a failed run",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *RunIDInput) (*GetOutcomeOutput, error) {
		if !ready {
			return nil, unavailable()
		}
		rec, err := svcs.Pipeline.Outcome(ctx, input.RunID)
		if err != nil {
			return nil, apiError(err)
		}
		return &GetOutcomeOutput{Body: toOutcomeResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-artifacts",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts",
		Summary:     "List run artifacts",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *RunIDInput) (*ListRunArtifactsOutput, error) {
		if svcs == nil || svcs.Artifacts == nil {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}
		objects, err := svcs.Artifacts.List(ctx, qart.RunArtifactPrefix(input.RunID))
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to list artifacts: %v", err))
		}

		resp := &ListRunArtifactsOutput{}
		resp.Body.Artifacts = make([]schemas.RunArtifact, 0, len(objects))
		for _, obj := range objects {
			resp.Body.Artifacts = append(resp.Body.Artifacts, schemas.RunArtifact{
				Key:         obj.Key,
				Filename:    obj.Filename(),
				Size:        obj.Size,
				ContentType: obj.ContentType,
			})
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact-url",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts/{filename}/url",
		Summary:     "Get artifact download URL",
		Description: "Get a presigned URL to download an artifact",
		Tags:        []string{TagRuns.String()},
	}, func(ctx context.Context, input *GetArtifactURLInput) (*GetArtifactURLOutput, error) {
		if svcs == nil || svcs.Artifacts == nil {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		url, err := svcs.Artifacts.GetPresignedURL(ctx, qart.RunArtifactKey(input.RunID, input.Filename), time.Hour)
		if errors.Is(err, qart.ErrNotFound) {
			return nil, huma.Error404NotFound("artifact not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to get presigned URL: %v", err))
		}

		resp := &GetArtifactURLOutput{}
		resp.Body.URL = url
		return resp, nil
	})
}

func toRunResponse(run *qrunner.Run) schemas.RunResponse {
	resp := schemas.RunResponse{
		ID:        run.ID,
		Name:      run.Name,
		Status:    string(run.Status),
		Command:   run.Command,
		StdinName: run.StdinName,
		Collect:   run.Collect,
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
		ExitCode:  run.ExitCode,
		Error:     run.Error,
	}
	if run.StartedAt != nil {
		startedAt := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &startedAt
	}
	if run.FinishedAt != nil {
		finishedAt := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finishedAt
	}
	for _, a := range run.Artifacts {
		resp.Artifacts = append(resp.Artifacts, schemas.RunArtifact{
			Key:         a.Key,
			Filename:    a.Filename,
			Size:        a.Size,
			ContentType: a.ContentType,
			URL:         a.URL,
		})
	}
	return resp
}

func toOutcomeResponse(rec *archive.Record) schemas.OutcomeResponse {
	resp := schemas.OutcomeResponse{
		RunID:      rec.RunID,
		Name:       rec.Name,
		Status:     string(rec.Status),
		Code:       string(rec.Code),
		ExitStatus: rec.ExitStatus,
		Message:    rec.Message,
		Log:        string(rec.Log),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Bundle != nil {
		resp.CoverageMap = toEntries(rec.Bundle.CoverageMap)
		resp.RateMap = toEntries(rec.Bundle.RateMap)
		resp.ProductionRateMap = toEntries(rec.Bundle.ProductionRateMap)
	}
	return resp
}

func toEntries(t catmap.Table) []schemas.ResultEntry {
	out := make([]schemas.ResultEntry, len(t))
	for i, e := range t {
		out[i] = schemas.ResultEntry{catmap.JSONPoint(e.Point), catmap.JSONValues(e.Values)}
	}
	return out
}
