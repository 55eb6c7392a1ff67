package search

import "context"

// ActivityRecord is the data indexed per activity.
type ActivityRecord struct {
	ID          string   `json:"id"`
	PlannerID   string   `json:"plannerId"`
	SectionID   string   `json:"sectionId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Type        string   `json:"type"`
	Tags        []string `json:"tags"`
}

// Query describes an activity search request, always scoped to one
// planner: the caller has already resolved view access for it.
type Query struct {
	Text      string
	PlannerID string
	SectionID string
	Status    string
	Limit     int
	Offset    int
}

// Result is a single search hit.
type Result struct {
	ID        string `json:"id"`
	PlannerID string `json:"plannerId"`
	SectionID string `json:"sectionId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute an activity search. The context carries request
// cancellation into whichever backend serves the query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}
