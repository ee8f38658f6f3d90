package domain

// DispatchResult is the outcome of one dispatch attempt as seen by the
// worker. It is never persisted by this side; the worker turns it into an
// acknowledge call and the queue backend owns the rest.
type DispatchResult struct {
	OK             bool           `json:"ok"`
	RequestID      string         `json:"request_id,omitempty"`
	ChannelUsed    Channel        `json:"channel_used,omitempty"`
	FallbackFrom   Channel        `json:"fallback_from,omitempty"`
	Error          string         `json:"error,omitempty"`
	ProviderResult map[string]any `json:"provider_result,omitempty"`
}
