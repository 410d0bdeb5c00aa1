package formskit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	forms "google.golang.org/api/forms/v1"
)

const (
	methodInitialize = "initialize"
	methodToolsList  = "tools/list"
	methodToolsCall  = "tools/call"

	toolGetForm       = "forms.get_form"
	toolListResponses = "forms.list_responses"

	serverName    = "Multi-User Google Forms MCP"
	serverVersion = "0.1.0"

	// DefaultMaxResults bounds a response listing when the caller omits
	// max_results. Mirrored in the tools/list schema.
	DefaultMaxResults = int64(5)

	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUpstreamFailed = -32000
	// codeNotConnected deliberately reuses the HTTP unauthorized number
	// inside the envelope; the transport status stays 200.
	codeNotConnected = 401
)

// RPCRequest is the inbound protocol envelope.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  RPCParams       `json:"params"`
	Meta    RPCMeta         `json:"meta"`
}

// RPCParams carries the tool name and arguments for tools/call.
type RPCParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// RPCMeta carries per-request tenant metadata.
type RPCMeta struct {
	UserID string `json:"user_id"`
}

// RPCError is the error half of a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCResponse is the outbound protocol envelope: result or error, never both.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ContentItem wraps a tool payload as a typed content entry.
type ContentItem struct {
	Type string `json:"type"`
	JSON any    `json:"json"`
}

// ToolResult is the result shape shared by every tool.
type ToolResult struct {
	Content []ContentItem `json:"content"`
}

// ToolDescriptor is the wire catalog entry advertised by tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolHandler func(ctx context.Context, userID string, arguments map[string]any) (any, error)

// toolEntry pairs a descriptor with its handler so the advertised catalog and
// the enforced contract cannot drift apart.
type toolEntry struct {
	descriptor ToolDescriptor
	handle     toolHandler
}

// RPCDispatcher routes protocol requests to handlers and shapes every outcome
// into the response envelope. Authorization and upstream failures live inside
// the envelope (HTTP 200); only unrecognized methods and unparseable bodies
// surface as HTTP 400.
type RPCDispatcher struct {
	configuration ServiceConfig
	backend       FormsBackend
	metrics       MetricsRecorder
	logger        *zap.Logger
	tools         []toolEntry
}

// NewRPCDispatcher constructs the dispatcher with its fixed tool catalog.
func NewRPCDispatcher(configuration ServiceConfig, backend FormsBackend, metrics MetricsRecorder, logger *zap.Logger) *RPCDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	dispatcher := &RPCDispatcher{
		configuration: configuration,
		backend:       backend,
		metrics:       metrics,
		logger:        logger,
	}
	dispatcher.tools = []toolEntry{
		{
			descriptor: ToolDescriptor{
				Name:        toolGetForm,
				Description: "Get basic information about a Google Form",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"form_id": map[string]any{
							"type":        "string",
							"description": "Google Form ID",
						},
					},
					"required": []string{"form_id"},
				},
			},
			handle: dispatcher.handleGetForm,
		},
		{
			descriptor: ToolDescriptor{
				Name:        toolListResponses,
				Description: "List responses of a Google Form",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"form_id": map[string]any{
							"type":        "string",
							"description": "Google Form ID",
						},
						"max_results": map[string]any{
							"type":    "integer",
							"default": DefaultMaxResults,
						},
					},
					"required": []string{"form_id"},
				},
			},
			handle: dispatcher.handleListResponses,
		},
	}
	return dispatcher
}

// Mount registers the protocol endpoint.
func (dispatcher *RPCDispatcher) Mount(router gin.IRouter) {
	router.POST("/mcp", dispatcher.handleRPC)
}

func (dispatcher *RPCDispatcher) handleRPC(contextGin *gin.Context) {
	var request RPCRequest
	if bindErr := contextGin.ShouldBindJSON(&request); bindErr != nil {
		dispatcher.metrics.Increment("rpc.parse_error")
		contextGin.JSON(http.StatusBadRequest, errorEnvelope(nil, codeParseError, "Parse error"))
		return
	}

	userID := ResolveUserID(request.Meta.UserID)

	switch request.Method {
	case methodInitialize:
		dispatcher.metrics.Increment("rpc.initialize")
		contextGin.JSON(http.StatusOK, resultEnvelope(request.ID, gin.H{
			"serverInfo": gin.H{
				"name":    serverName,
				"version": serverVersion,
			},
		}))
	case methodToolsList:
		dispatcher.metrics.Increment("rpc.tools_list")
		descriptors := make([]ToolDescriptor, 0, len(dispatcher.tools))
		for _, entry := range dispatcher.tools {
			descriptors = append(descriptors, entry.descriptor)
		}
		contextGin.JSON(http.StatusOK, resultEnvelope(request.ID, gin.H{"tools": descriptors}))
	case methodToolsCall:
		dispatcher.handleToolCall(contextGin, request, userID)
	default:
		dispatcher.respondMethodNotFound(contextGin, request.ID)
	}
}

func (dispatcher *RPCDispatcher) handleToolCall(contextGin *gin.Context, request RPCRequest, userID string) {
	entry, found := dispatcher.lookupTool(request.Params.Name)
	if !found {
		// Unknown tool falls through to the same terminal branch as an
		// unknown method; the wire contract does not distinguish them.
		dispatcher.respondMethodNotFound(contextGin, request.ID)
		return
	}

	dispatcher.metrics.Increment("rpc.tools_call")
	payload, callErr := entry.handle(contextGin.Request.Context(), userID, request.Params.Arguments)
	switch {
	case errors.Is(callErr, ErrNotAuthorized):
		dispatcher.metrics.Increment("rpc.auth_required")
		message := fmt.Sprintf("Google Forms not connected for user '%s'. Visit %s",
			userID, dispatcher.configuration.AuthorizationHintURL(userID))
		contextGin.JSON(http.StatusOK, errorEnvelope(request.ID, codeNotConnected, message))
	case errors.Is(callErr, ErrInvalidArguments):
		dispatcher.metrics.Increment("rpc.invalid_params")
		contextGin.JSON(http.StatusOK, errorEnvelope(request.ID, codeInvalidParams, callErr.Error()))
	case callErr != nil:
		dispatcher.metrics.Increment("rpc.upstream_error")
		dispatcher.logger.Warn("tool call failed",
			zap.String("code", "rpc.upstream_error"),
			zap.String("tool", request.Params.Name),
			zap.String("user", userID),
			zap.Error(callErr))
		contextGin.JSON(http.StatusOK, errorEnvelope(request.ID, codeUpstreamFailed, callErr.Error()))
	default:
		contextGin.JSON(http.StatusOK, resultEnvelope(request.ID, ToolResult{
			Content: []ContentItem{{Type: "json", JSON: payload}},
		}))
	}
}

func (dispatcher *RPCDispatcher) handleGetForm(ctx context.Context, userID string, arguments map[string]any) (any, error) {
	formID, ok := stringArgument(arguments, "form_id")
	if !ok {
		return nil, fmt.Errorf("%w: form_id is required", ErrInvalidArguments)
	}
	return dispatcher.backend.GetForm(ctx, userID, formID)
}

func (dispatcher *RPCDispatcher) handleListResponses(ctx context.Context, userID string, arguments map[string]any) (any, error) {
	formID, ok := stringArgument(arguments, "form_id")
	if !ok {
		return nil, fmt.Errorf("%w: form_id is required", ErrInvalidArguments)
	}
	maxResults := integerArgument(arguments, "max_results", DefaultMaxResults)
	responses, listErr := dispatcher.backend.ListResponses(ctx, userID, formID, maxResults)
	if listErr != nil {
		return nil, listErr
	}
	if responses == nil {
		responses = []*forms.FormResponse{}
	}
	return responses, nil
}

func (dispatcher *RPCDispatcher) lookupTool(name string) (toolEntry, bool) {
	for _, entry := range dispatcher.tools {
		if entry.descriptor.Name == name {
			return entry, true
		}
	}
	return toolEntry{}, false
}

func (dispatcher *RPCDispatcher) respondMethodNotFound(contextGin *gin.Context, requestID json.RawMessage) {
	dispatcher.metrics.Increment("rpc.method_not_found")
	contextGin.JSON(http.StatusBadRequest, errorEnvelope(requestID, codeMethodNotFound, "Method not found"))
}

func resultEnvelope(requestID json.RawMessage, result any) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: requestID, Result: result}
}

func errorEnvelope(requestID json.RawMessage, code int, message string) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: requestID, Error: &RPCError{Code: code, Message: message}}
}

func stringArgument(arguments map[string]any, key string) (string, bool) {
	value, ok := arguments[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func integerArgument(arguments map[string]any, key string, fallback int64) int64 {
	// JSON numbers decode as float64.
	switch value := arguments[key].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	default:
		return fallback
	}
}
