package events

// OutputKind identifies the variant of an OutputEvent.
type OutputKind string

const (
	OutputMessage           OutputKind = "message"
	OutputUserInput         OutputKind = "userInput"
	OutputToolUse           OutputKind = "toolUse"
	OutputToolResult        OutputKind = "toolResult"
	OutputStatus            OutputKind = "status"
	OutputPermissionRequest OutputKind = "permissionRequest"
	OutputError             OutputKind = "error"
	OutputRaw               OutputKind = "raw"
)

// OutputEvent is one structured unit classified from raw terminal output.
//
// It is a closed sum type: Kind selects the variant and only the fields
// listed for that variant are set.
//
//	message           Content
//	userInput         Content
//	toolUse           Tool, Input
//	toolResult        Tool, Output, Truncated
//	status            State
//	permissionRequest Action, Details (RequestID once the store assigns one)
//	error             Message
//	raw               Data
type OutputEvent struct {
	Kind      OutputKind `json:"type"`
	Content   string     `json:"content,omitempty"`
	Tool      string     `json:"tool,omitempty"`
	Input     string     `json:"input,omitempty"`
	Output    string     `json:"output,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
	State     string     `json:"state,omitempty"`
	Action    string     `json:"action,omitempty"`
	Details   string     `json:"details,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
	Message   string     `json:"message,omitempty"`
	Data      string     `json:"data,omitempty"`
}

// NewMessage creates a message event.
func NewMessage(content string) OutputEvent {
	return OutputEvent{Kind: OutputMessage, Content: content}
}

// NewUserInput creates a user input echo event.
func NewUserInput(content string) OutputEvent {
	return OutputEvent{Kind: OutputUserInput, Content: content}
}

// NewToolUse creates a tool invocation event.
func NewToolUse(tool, input string) OutputEvent {
	return OutputEvent{Kind: OutputToolUse, Tool: tool, Input: input}
}

// NewToolResult creates a tool result event.
func NewToolResult(tool, output string, truncated bool) OutputEvent {
	return OutputEvent{Kind: OutputToolResult, Tool: tool, Output: output, Truncated: truncated}
}

// NewStatus creates a status change event.
func NewStatus(state string) OutputEvent {
	return OutputEvent{Kind: OutputStatus, State: state}
}

// NewPermissionRequest creates a permission request event.
func NewPermissionRequest(action, details string) OutputEvent {
	return OutputEvent{Kind: OutputPermissionRequest, Action: action, Details: details}
}

// NewError creates an error event.
func NewError(message string) OutputEvent {
	return OutputEvent{Kind: OutputError, Message: message}
}

// NewRaw creates a raw fallback event.
func NewRaw(data string) OutputEvent {
	return OutputEvent{Kind: OutputRaw, Data: data}
}
