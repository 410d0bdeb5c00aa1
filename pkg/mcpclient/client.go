// Package mcpclient is a typed consumer client for the formgate tool-calling
// endpoint. It speaks the /mcp envelope so callers work with Go values
// instead of raw JSON-RPC plumbing.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Sentinel errors exposed by the client.
var (
	ErrMissingBaseURL = errors.New("mcpclient.missing_base_url")
	ErrTransport      = errors.New("mcpclient.transport")
	ErrDecode         = errors.New("mcpclient.decode")
	ErrEmptyResult    = errors.New("mcpclient.empty_result")
)

// Config configures the Client.
type Config struct {
	// BaseURL is the gateway root, e.g. https://forms.example.com.
	BaseURL string
	// UserID is sent as meta.user_id on every request; empty means the
	// server-side default tenant.
	UserID string
	// HTTPClient overrides the transport; nil uses a 30s-timeout default.
	HTTPClient *http.Client
}

// Client calls a formgate /mcp endpoint.
type Client struct {
	endpoint   string
	userID     string
	httpClient *http.Client
	sequence   atomic.Int64
}

// RPCError is a protocol-level failure returned inside a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error renders the protocol error as text.
func (rpcError *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", rpcError.Code, rpcError.Message)
}

// ServerInfo is the identity reported by initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is one catalog entry from tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// New constructs a Client after validating the supplied configuration.
func New(configuration Config) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(configuration.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("mcpclient.new: %w", ErrMissingBaseURL)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint:   baseURL + "/mcp",
		userID:     configuration.UserID,
		httpClient: httpClient,
	}, nil
}

// Initialize fetches the server identity.
func (client *Client) Initialize(ctx context.Context) (ServerInfo, error) {
	var result struct {
		ServerInfo ServerInfo `json:"serverInfo"`
	}
	if err := client.call(ctx, "initialize", nil, &result); err != nil {
		return ServerInfo{}, err
	}
	return result.ServerInfo, nil
}

// ListTools fetches the tool catalog.
func (client *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var result struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := client.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool and returns the first content item's JSON
// payload. Protocol errors, including the not-connected authorization error,
// come back as *RPCError.
func (client *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	var result struct {
		Content []struct {
			Type string          `json:"type"`
			JSON json.RawMessage `json:"json"`
		} `json:"content"`
	}
	if err := client.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("mcpclient.call_tool: %w", ErrEmptyResult)
	}
	return result.Content[0].JSON, nil
}

func (client *Client) call(ctx context.Context, method string, params any, result any) error {
	requestID := client.sequence.Add(1)
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"id":      requestID,
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	if client.userID != "" {
		envelope["meta"] = map[string]any{"user_id": client.userID}
	}

	body, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		return fmt.Errorf("mcpclient.call: %w: %v", ErrDecode, marshalErr)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint, bytes.NewReader(body))
	if requestErr != nil {
		return fmt.Errorf("mcpclient.call: %w: %v", ErrTransport, requestErr)
	}
	request.Header.Set("Content-Type", "application/json")

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("mcpclient.call: %w: %v", ErrTransport, doErr)
	}
	defer func() { _ = response.Body.Close() }()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&decoded); decodeErr != nil {
		return fmt.Errorf("mcpclient.call: %w: %v", ErrDecode, decodeErr)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil {
		return nil
	}
	if unmarshalErr := json.Unmarshal(decoded.Result, result); unmarshalErr != nil {
		return fmt.Errorf("mcpclient.call: %w: %v", ErrDecode, unmarshalErr)
	}
	return nil
}
