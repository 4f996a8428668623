// Package config holds the routing data model, the immutable snapshot the
// proxy engine resolves against, and the process settings file.
package config

// TargetType identifies the client surface a route serves.
type TargetType string

const (
	TargetClaudeCode TargetType = "claude-code"
	TargetCodex      TargetType = "codex"
)

func (t TargetType) Valid() bool {
	return t == TargetClaudeCode || t == TargetCodex
}

// SourceType identifies the wire dialect an upstream service speaks.
type SourceType string

const (
	SourceClaudeChat      SourceType = "claude-chat"
	SourceClaudeCode      SourceType = "claude-code"
	SourceOpenAIChat      SourceType = "openai-chat"
	SourceOpenAICode      SourceType = "openai-code"
	SourceOpenAIResponses SourceType = "openai-responses"
	SourceDeepSeekChat    SourceType = "deepseek-chat"
)

// IsClaude reports whether the upstream speaks the Messages dialect.
func (s SourceType) IsClaude() bool {
	return s == SourceClaudeChat || s == SourceClaudeCode
}

// IsChat reports whether the upstream speaks the Chat Completions dialect.
func (s SourceType) IsChat() bool {
	return s == SourceOpenAIChat || s == SourceOpenAICode || s == SourceDeepSeekChat
}

// IsResponses reports whether the upstream speaks the Responses dialect.
func (s SourceType) IsResponses() bool {
	return s == SourceOpenAIResponses
}

func (s SourceType) Valid() bool {
	return s.IsClaude() || s.IsChat() || s.IsResponses()
}

// ContentType is the classified class of a request, used for rule selection.
type ContentType string

const (
	ContentDefault     ContentType = "default"
	ContentBackground  ContentType = "background"
	ContentThinking    ContentType = "thinking"
	ContentLongContext ContentType = "long-context"
	ContentImage       ContentType = "image-understanding"
)

// ContentTypes returns all content classes in their canonical order. Rule
// lists are kept in this order.
func ContentTypes() []ContentType {
	return []ContentType{
		ContentDefault,
		ContentBackground,
		ContentThinking,
		ContentLongContext,
		ContentImage,
	}
}

// ContentTypeOrder returns the position of ct in the canonical order, with
// unknown values sorting last.
func ContentTypeOrder(ct ContentType) int {
	for i, known := range ContentTypes() {
		if ct == known {
			return i
		}
	}

	return len(ContentTypes())
}

func (c ContentType) Valid() bool {
	return ContentTypeOrder(c) < len(ContentTypes())
}

// Vendor groups upstream services.
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is a concrete upstream endpoint.
type Service struct {
	ID              string     `json:"id"`
	VendorID        string     `json:"vendorId"`
	Name            string     `json:"name"`
	APIURL          string     `json:"apiUrl"`
	APIKey          string     `json:"apiKey"`
	Timeout         int64      `json:"timeout"` // milliseconds
	SourceType      SourceType `json:"sourceType"`
	SupportedModels []string   `json:"supportedModels"`
}

// DefaultTimeoutMS is applied when a service does not set its own timeout.
const DefaultTimeoutMS = 30000

// TimeoutMS returns the dispatch timeout for this service in milliseconds.
func (s Service) TimeoutMS() int64 {
	if s.Timeout > 0 {
		return s.Timeout
	}

	return DefaultTimeoutMS
}

// Route is a selection container scoped to one client surface. At most one
// route per target type is active at any time.
type Route struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	TargetType TargetType `json:"targetType"`
	IsActive   bool       `json:"isActive"`
}

// Rule maps (route, contentType) to a service with an optional model
// override. (RouteID, ContentType) is unique.
type Rule struct {
	ID              string      `json:"id"`
	RouteID         string      `json:"routeId"`
	ContentType     ContentType `json:"contentType"`
	TargetServiceID string      `json:"targetServiceId"`
	TargetModel     string      `json:"targetModel,omitempty"`
}

// AppConfig is the proxy-wide application configuration. An empty APIKey
// disables client authentication.
type AppConfig struct {
	EnableLogging    bool   `json:"enableLogging"`
	LogRetentionDays int    `json:"logRetentionDays"`
	MaxLogSize       int    `json:"maxLogSize"`
	APIKey           string `json:"apiKey"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		EnableLogging:    true,
		LogRetentionDays: 7,
		MaxLogSize:       10000,
	}
}
