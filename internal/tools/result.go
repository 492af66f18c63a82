package tools

// ImageEnvelope carries image output from a tool.
type ImageEnvelope struct {
	MediaType string `json:"media_type"`
	Base64    string `json:"base64"`
	Path      string `json:"path,omitempty"`
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string         `json:"for_llm"`         // content sent to the model
	Image   *ImageEnvelope `json:"image,omitempty"` // optional image payload
	IsError bool           `json:"is_error"`
	Err     error          `json:"-"` // internal error, not serialized
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ImageResult(env ImageEnvelope, forLLM string) *Result {
	return &Result{ForLLM: forLLM, Image: &env}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
