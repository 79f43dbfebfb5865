package schemas

// CopySpec asks for a local file to be placed in the sandbox
type CopySpec struct {
	Source string `json:"source" doc:"Path on the server"`
	Target string `json:"target" doc:"Name inside the sandbox"`
}

// CodeInfo describes how the interpreter is invoked
type CodeInfo struct {
	StdinName  string `json:"stdin_name" doc:"Driver script fed to stdin"`
	StdoutName string `json:"stdout_name" doc:"File capturing stdout"`
	WithMPI    bool   `json:"with_mpi" doc:"Whether the interpreter runs under MPI"`
}

// Manifest is what a runner needs to execute the prepared files
type Manifest struct {
	Code          CodeInfo   `json:"code"`
	LocalCopyList []CopySpec `json:"local_copy_list" doc:"Files to copy into the sandbox"`
	RetrieveList  []string   `json:"retrieve_list" doc:"Files to retrieve after the run"`
	DataFile      string     `json:"data_file" doc:"Pickle written by CatMAP"`
	MkmFilename   string     `json:"mkm_filename" doc:"Model file name"`
}

// PrepareResponse holds the rendered input files
type PrepareResponse struct {
	Files    map[string]string `json:"files" doc:"Rendered files by name"`
	Manifest Manifest          `json:"manifest"`
}
