package observability

// Span and attribute names shared by the engine components.
const (
	AttrSessionID       = "session.id"
	AttrRound           = "orchestrator.round"
	AttrToolName        = "tool.name"
	AttrToolCallID      = "tool.call_id"
	AttrToolStatus      = "tool.status"
	AttrLLMModel        = "llm.model"
	AttrLLMProvider     = "llm.provider"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrLLMToolCalls    = "llm.tool_calls"
	AttrRetrievalTopK   = "retrieval.top_k"
	AttrRetrievalHits   = "retrieval.hits"
	AttrErrorType       = "error.type"
	AttrHTTPMethod      = "http.method"
	AttrHTTPRoute       = "http.route"
	AttrHTTPStatusCode  = "http.status_code"

	SpanTurn       = "orchestrator.turn"
	SpanRound      = "orchestrator.round"
	SpanToolInvoke = "tool.invoke"
	SpanLLMRequest = "llm.complete"
	SpanRetrieval  = "retrieval.search"
	SpanHTTP       = "http.request"

	DefaultServiceName = "sahayak"
)
