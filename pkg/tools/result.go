package tools

// ToolResult carries a tool's outcome back to the agent loop. ForLLM
// feeds the next model iteration; ForUser, when set, is surfaced to the
// user directly. Direct results end the loop with the tool's output as
// the final answer, mirroring tools whose product (an image URL, a
// rendered file) the model should not paraphrase.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Silent  bool
	Direct  bool
	Err     error
}

func Result(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func UserResult(forLLM, forUser string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, ForUser: forUser}
}

// DirectResult stops the agent loop; forUser is delivered verbatim.
func DirectResult(forUser string) *ToolResult {
	return &ToolResult{ForLLM: forUser, ForUser: forUser, Direct: true}
}

// SilentResult informs the model without telling the user anything.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}
