package handlers

import (
	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/stream"
)

// family is the wire dialect spoken on one side of an exchange.
type family int

const (
	famMessages family = iota
	famChat
	famResponses
)

// clientFamily maps a client surface to the dialect its requests arrive in.
func clientFamily(target config.TargetType) family {
	if target == config.TargetCodex {
		return famResponses
	}

	return famMessages
}

// upstreamFamily maps a service source type to the dialect the upstream
// speaks. Unknown source types report false and the request is rejected.
func upstreamFamily(source config.SourceType) (family, bool) {
	switch {
	case source.IsClaude():
		return famMessages, true
	case source.IsChat():
		return famChat, true
	case source.IsResponses():
		return famResponses, true
	default:
		return 0, false
	}
}

// endpointPath is the conventional completion endpoint for a dialect, used
// when a service URL carries no path of its own.
func endpointPath(upstream family) string {
	switch upstream {
	case famChat:
		return "/v1/chat/completions"
	case famResponses:
		return "/v1/responses"
	default:
		return "/v1/messages"
	}
}

// transformRequest rewrites a client-dialect request body into the upstream
// dialect. Same-family pairs pass through untouched.
func transformRequest(body map[string]any, client, upstream family, source config.SourceType) map[string]any {
	if body == nil || client == upstream {
		return body
	}

	if client == famMessages {
		if upstream == famChat {
			return dialect.MessagesToChatRequest(body, source)
		}

		return dialect.MessagesToResponsesRequest(body)
	}

	if upstream == famChat {
		return dialect.ResponsesToChatRequest(body)
	}

	return dialect.ResponsesToMessagesRequest(body)
}

// transformResponse rewrites a buffered upstream response body back into
// the client dialect.
func transformResponse(body map[string]any, client, upstream family) map[string]any {
	if body == nil || client == upstream {
		return body
	}

	if client == famMessages {
		if upstream == famChat {
			return dialect.ChatToMessagesResponse(body)
		}

		return dialect.ResponsesToMessagesResponse(body)
	}

	if upstream == famChat {
		return dialect.ChatToResponsesResponse(body)
	}

	return dialect.MessagesToResponsesResponse(body)
}

// streamBridge returns the event machine translating an upstream stream
// into the client dialect, or nil when the dialects already match.
func streamBridge(client, upstream family) stream.Transformer {
	if client == upstream {
		return nil
	}

	if client == famMessages {
		if upstream == famChat {
			return stream.NewChatToMessages()
		}

		return stream.NewResponsesToMessages()
	}

	if upstream == famChat {
		return stream.NewChatToResponses()
	}

	return stream.NewMessagesToResponses()
}

// usageFrom extracts token usage from a buffered upstream response using
// the upstream dialect's field names.
func usageFrom(body map[string]any, upstream family) dialect.TokenUsage {
	usage := dialect.GetMap(body, "usage")
	if usage == nil {
		return dialect.TokenUsage{}
	}

	switch upstream {
	case famChat:
		return dialect.UsageFromChat(usage)
	case famResponses:
		return dialect.UsageFromResponses(usage)
	default:
		return dialect.UsageFromMessages(usage)
	}
}
