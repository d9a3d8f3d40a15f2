package telemetry

// Attribute names for spans and metrics
const (
	AttrMCPToolName    = "mcp.tool.name"
	AttrMCPToolSuccess = "mcp.tool.result.success"
	AttrMCPToolError   = "mcp.tool.result.error"
	AttrMCPToolArgs    = "mcp.tool.arguments"
	AttrMCPSessionID   = "mcp.session.id"
	AttrMCPTransport   = "mcp.transport"

	AttrConversionOperation  = "markdownify.operation"
	AttrConversionSourceKind = "markdownify.source.kind" // file, url or markdown
	AttrConversionBytes      = "markdownify.output.bytes"
	AttrConversionErrorType  = "markdownify.error.type"
)

// Span names
const (
	SpanNameToolExecute = "mcp.tool.execute"
	SpanNameConversion  = "markdownify.convert"
)

// Error categories shared by the tool error log, spans and the error counter
const (
	ErrorCategoryValidation = "validation"
	ErrorCategoryNotFound   = "not_found"
	ErrorCategorySecurity   = "security"
	ErrorCategoryTimeout    = "timeout"
	ErrorCategoryNetwork    = "network"
	ErrorCategoryConversion = "conversion"
	ErrorCategoryInternal   = "internal"
)
