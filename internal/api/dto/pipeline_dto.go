package dto

// RunPipelineRequest tunes a manual pipeline run.
type RunPipelineRequest struct {
	Fetch bool `json:"fetch"`
}

// RunPipelineResponse reports run statistics.
type RunPipelineResponse struct {
	Fetched        int    `json:"fetched"`
	Analyzed       int    `json:"analyzed"`
	Relevant       int    `json:"relevant"`
	TicketsCreated int    `json:"tickets_created"`
	Skipped        int    `json:"skipped"`
	Errors         int    `json:"errors"`
	DurationMs     int64  `json:"duration_ms"`
	Status         string `json:"status"`
}
