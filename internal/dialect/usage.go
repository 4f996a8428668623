package dialect

// TokenUsage is the normalized token accounting extracted from any dialect.
type TokenUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	TotalTokens          int `json:"total_tokens,omitempty"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// Total returns the wire-reported total when present, the input/output sum
// otherwise.
func (u TokenUsage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}

	return u.InputTokens + u.OutputTokens
}

// MessagesMap renders the usage in the Messages dialect.
func (u TokenUsage) MessagesMap() map[string]any {
	return map[string]any{
		"input_tokens":            u.InputTokens,
		"output_tokens":           u.OutputTokens,
		"cache_read_input_tokens": u.CacheReadInputTokens,
	}
}

// ResponsesMap renders the usage in the Responses dialect. The input count
// is cache-inclusive there: downstream billing math relies on
// input_tokens already containing the cache reads.
func (u TokenUsage) ResponsesMap() map[string]any {
	input := u.InputTokens + u.CacheReadInputTokens

	return map[string]any{
		"input_tokens":  input,
		"output_tokens": u.OutputTokens,
		"total_tokens":  input + u.OutputTokens,
	}
}

// ChatMap renders the usage in the Chat Completions dialect.
func (u TokenUsage) ChatMap() map[string]any {
	out := map[string]any{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.Total(),
	}

	if u.CacheReadInputTokens > 0 {
		out["prompt_tokens_details"] = map[string]any{"cached_tokens": u.CacheReadInputTokens}
	}

	return out
}

// UsageFromChat maps a Chat Completions usage object.
func UsageFromChat(usage map[string]any) TokenUsage {
	if usage == nil {
		return TokenUsage{}
	}

	u := TokenUsage{
		InputTokens:  GetInt(usage, "prompt_tokens"),
		OutputTokens: GetInt(usage, "completion_tokens"),
		TotalTokens:  GetInt(usage, "total_tokens"),
	}

	if details := GetMap(usage, "prompt_tokens_details"); details != nil {
		u.CacheReadInputTokens = GetInt(details, "cached_tokens")
	}

	return u
}

// UsageFromMessages maps a Messages usage object.
func UsageFromMessages(usage map[string]any) TokenUsage {
	if usage == nil {
		return TokenUsage{}
	}

	return TokenUsage{
		InputTokens:          GetInt(usage, "input_tokens"),
		OutputTokens:         GetInt(usage, "output_tokens"),
		CacheReadInputTokens: GetInt(usage, "cache_read_input_tokens"),
	}
}

// UsageFromAny maps a usage object of unknown dialect by key shape.
func UsageFromAny(usage map[string]any) TokenUsage {
	if usage == nil {
		return TokenUsage{}
	}

	if _, ok := usage["prompt_tokens"]; ok {
		return UsageFromChat(usage)
	}

	return UsageFromResponses(usage)
}

// UsageFromResponses maps a Responses usage object. Cached reads may be
// reported under three different keys depending on the upstream.
func UsageFromResponses(usage map[string]any) TokenUsage {
	if usage == nil {
		return TokenUsage{}
	}

	u := TokenUsage{
		InputTokens:          GetInt(usage, "input_tokens"),
		OutputTokens:         GetInt(usage, "output_tokens"),
		TotalTokens:          GetInt(usage, "total_tokens"),
		CacheReadInputTokens: GetInt(usage, "cache_read_input_tokens"),
	}

	if u.CacheReadInputTokens == 0 {
		if details := GetMap(usage, "input_tokens_details"); details != nil {
			u.CacheReadInputTokens = GetInt(details, "cached_tokens")
		}
	}

	if u.CacheReadInputTokens == 0 {
		if details := GetMap(usage, "prompt_tokens_details"); details != nil {
			u.CacheReadInputTokens = GetInt(details, "cached_tokens")
		}
	}

	return u
}
