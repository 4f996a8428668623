package dialect

// StopReasonFromFinish maps a Chat finish_reason to a Messages stop reason.
// The mapping is part of the wire contract; keep it exact.
func StopReasonFromFinish(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// ResponsesStatus maps a Messages stop reason to the Responses terminal
// status plus its incomplete reason, when any.
func ResponsesStatus(stopReason string) (status, incompleteReason string) {
	if stopReason == "max_tokens" {
		return "incomplete", "max_output_tokens"
	}

	return "completed", ""
}
