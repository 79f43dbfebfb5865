package schemas

// RunArtifact represents a stored artifact for a run
type RunArtifact struct {
	Key         string `json:"key" doc:"Storage key"`
	Filename    string `json:"filename" doc:"Original filename"`
	Size        int64  `json:"size" doc:"Size in bytes"`
	ContentType string `json:"content_type" doc:"MIME type"`
	URL         string `json:"url,omitempty" doc:"Download URL (presigned)"`
}

// RunResponse describes a local CatMAP run
type RunResponse struct {
	ID         string        `json:"id" doc:"Run ID"`
	Name       string        `json:"name,omitempty" doc:"Run name"`
	Status     string        `json:"status" doc:"Process status" enum:"pending,running,succeeded,failed,cancelled"`
	Command    string        `json:"command" doc:"Interpreter"`
	StdinName  string        `json:"stdin_name,omitempty" doc:"Driver script fed to stdin"`
	Collect    []string      `json:"retrieve_list,omitempty" doc:"Files retrieved after the run"`
	CreatedAt  string        `json:"created_at" doc:"Creation timestamp"`
	StartedAt  *string       `json:"started_at,omitempty" doc:"Start timestamp"`
	FinishedAt *string       `json:"finished_at,omitempty" doc:"Finish timestamp"`
	ExitCode   *int          `json:"exit_code,omitempty" doc:"Interpreter exit code"`
	Error      string        `json:"error,omitempty" doc:"Why the process failed"`
	Artifacts  []RunArtifact `json:"artifacts,omitempty" doc:"Run artifacts"`
}
