package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/gateway"
)

const defaultConnectorTimeout = 30 * time.Second

// ErrMissingURL is returned when a connector task has no url param
var ErrMissingURL = errors.New("connector task requires a url param")

// ConnectorAgent executes REST calls against external systems. It
// serves the connector agent type.
//
// Recognized params: url (required), method (default GET), headers
// (string map), body (string), timeout (seconds).
type ConnectorAgent struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewConnectorAgent creates a new connector agent
func NewConnectorAgent(logger *zap.Logger) *ConnectorAgent {
	return &ConnectorAgent{
		logger: logger.Named("connector-agent"),
		httpClient: &http.Client{
			Timeout: defaultConnectorTimeout,
		},
	}
}

// Execute performs the HTTP request described by the task params. A
// response status below 400 is a success; 4xx and 5xx come back as a
// failed result carrying the status.
func (a *ConnectorAgent) Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	url, _ := req.Params["url"].(string)
	if url == "" {
		return nil, ErrMissingURL
	}

	method := http.MethodGet
	if m, ok := req.Params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	// Per-request deadline; the shared client keeps its own default
	if secs, ok := req.Params["timeout"].(float64); ok && secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs*float64(time.Second)))
		defer cancel()
	}

	var body io.Reader
	if b, ok := req.Params["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headerMap(req.Params["headers"]) {
		httpReq.Header.Set(key, value)
	}

	a.logger.Info("Executing HTTP request",
		zap.String("method", method),
		zap.String("url", url))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &gateway.Result{
		Success: resp.StatusCode < 400,
		Content: string(respBody),
		Metadata: map[string]interface{}{
			"status_code": resp.StatusCode,
		},
	}
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP request failed with status: %d", resp.StatusCode)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var data map[string]interface{}
		if json.Unmarshal(respBody, &data) == nil {
			result.Data = data
		}
	}

	return result, nil
}

func headerMap(v interface{}) map[string]string {
	switch headers := v.(type) {
	case map[string]string:
		return headers
	case map[string]interface{}:
		out := make(map[string]string, len(headers))
		for k, val := range headers {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
