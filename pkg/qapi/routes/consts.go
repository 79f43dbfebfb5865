package routes

type Tag string

const (
	TagHealth Tag = "health"
	TagInputs Tag = "inputs"
	TagRuns   Tag = "runs"
)

func (t Tag) String() string { return string(t) }
