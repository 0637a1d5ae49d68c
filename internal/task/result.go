package task

// Submit result codes, stable across backend families.
const (
	CodeFailure         = 0
	CodeSuccess         = 1
	CodeBannedPrompt    = 2
	CodeValidationError = 4
	CodeNotFound        = 9
	CodeExisted         = 21
	CodeInQueue         = 22
)

// SubmitResult is the envelope returned by every submit operation.
// Result is the task id; Properties carries extras such as finalPrompt and
// the remix flag on a modal EXISTED response. EXISTED is not terminal.
type SubmitResult struct {
	Code        int            `json:"code"`
	Description string         `json:"description"`
	Result      string         `json:"result,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// WithProperty attaches a key/value to the result and returns it for chaining.
func (r *SubmitResult) WithProperty(key string, value any) *SubmitResult {
	if r.Properties == nil {
		r.Properties = make(map[string]any)
	}
	r.Properties[key] = value
	return r
}

// Ok reports whether the submission was accepted (queued, running, or modal).
func (r *SubmitResult) Ok() bool {
	return r.Code == CodeSuccess || r.Code == CodeInQueue || r.Code == CodeExisted
}

// NewSubmitResult builds a result with a code and description.
func NewSubmitResult(code int, description string) *SubmitResult {
	return &SubmitResult{Code: code, Description: description}
}

// SubmitSuccess builds a SUCCESS result for a task id.
func SubmitSuccess(taskID string) *SubmitResult {
	return &SubmitResult{Code: CodeSuccess, Description: "success", Result: taskID}
}

// SubmitFailure builds a FAILURE result.
func SubmitFailure(description string) *SubmitResult {
	return &SubmitResult{Code: CodeFailure, Description: description}
}

// SubmitNotFound builds a NOT_FOUND result.
func SubmitNotFound(description string) *SubmitResult {
	return &SubmitResult{Code: CodeNotFound, Description: description}
}

// SubmitValidationError builds a VALIDATION_ERROR result.
func SubmitValidationError(description string) *SubmitResult {
	return &SubmitResult{Code: CodeValidationError, Description: description}
}

// Message is what a backend send primitive returns: the upstream's immediate
// verdict before any gateway event arrives.
type Message struct {
	Code        int
	Description string
}

// MessageSuccess is the canonical accepted message.
func MessageSuccess() Message { return Message{Code: CodeSuccess, Description: "success"} }

// MessageFailure builds a rejected message.
func MessageFailure(description string) Message {
	return Message{Code: CodeFailure, Description: description}
}
