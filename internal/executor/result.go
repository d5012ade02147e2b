package executor

// GraphQLError is a field or request error. Field errors carry the response
// path and the location of the offending field in the query text.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// Location is a 1-based line and column in the query text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ExecutionResult is the outcome of one operation.
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}
