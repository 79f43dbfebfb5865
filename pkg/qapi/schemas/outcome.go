package schemas

// ResultEntry is a [point, values] pair
type ResultEntry = []any

// OutcomeResponse is the archived result of a run
type OutcomeResponse struct {
	RunID             string        `json:"run_id" doc:"Run ID"`
	Name              string        `json:"name,omitempty" doc:"Run name"`
	Status            string        `json:"status" doc:"Outcome" enum:"succeeded,failed"`
	Code              string        `json:"code,omitempty" doc:"Error code when failed"`
	ExitStatus        int           `json:"exit_status" doc:"Exit status (100 missing output, 500 missing result key)"`
	Message           string        `json:"message,omitempty" doc:"Error message when failed"`
	Log               string        `json:"log" doc:"Captured stdout"`
	CoverageMap       []ResultEntry `json:"coverage_map,omitempty" doc:"Coverages per descriptor point"`
	RateMap           []ResultEntry `json:"rate_map,omitempty" doc:"Rates per descriptor point"`
	ProductionRateMap []ResultEntry `json:"production_rate_map,omitempty" doc:"Production rates per descriptor point"`
	CreatedAt         string        `json:"created_at" doc:"When the outcome was recorded"`
}
