package nodes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vison888/dify/workflow"
)

const (
	// maxResponseBody caps how much of an HTTP response is read.
	maxResponseBody = 10 << 20

	defaultHTTPTimeout = 60 * time.Second
)

// HTTPRequestNode performs one HTTP call described by its config. URL,
// headers, params, and body support pool references.
//
// Transport errors fail the node with no outputs. A response with status
// 400 or higher also fails, but with the response captured in the
// outputs: after retries are exhausted the engine treats such a result
// as a success carrying the error details, unless an error strategy
// claims the failure.
type HTTPRequestNode struct {
	workflow.BaseNode
	config httpConfig
	client *http.Client
}

type httpConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Body    httpBody          `json:"body,omitempty"`

	// Timeout is the per-attempt deadline in seconds.
	Timeout int `json:"timeout,omitempty"`
}

type httpBody struct {
	Type string `json:"type,omitempty"`
	Data string `json:"data,omitempty"`
}

func (d Deps) newHTTPRequestNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &HTTPRequestNode{BaseNode: workflow.NewBaseNode(init), client: d.HTTPClient}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if n.config.URL == "" {
		return nil, fmt.Errorf("http-request: url is required")
	}
	if n.config.Method == "" {
		n.config.Method = http.MethodGet
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *HTTPRequestNode) ExtractVariableSelectors() map[string][]string {
	out := templateSelectors(nil, n.config.URL, n.config.Body.Data)
	for _, v := range n.config.Headers {
		out = templateSelectors(out, v)
	}
	for _, v := range n.config.Params {
		out = templateSelectors(out, v)
	}
	return out
}

// Run implements workflow.Node.
func (n *HTTPRequestNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		timeout := defaultHTTPTimeout
		if n.config.Timeout > 0 {
			timeout = time.Duration(n.config.Timeout) * time.Second
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		pool := n.Pool()
		rawURL := renderTemplate(pool, n.config.URL)

		reqURL, err := url.Parse(rawURL)
		if err != nil {
			return workflow.FailedResult(fmt.Errorf("invalid url %q: %w", rawURL, err))
		}
		if len(n.config.Params) > 0 {
			query := reqURL.Query()
			for k, v := range n.config.Params {
				query.Set(k, renderTemplate(pool, v))
			}
			reqURL.RawQuery = query.Encode()
		}

		var body io.Reader
		if n.config.Body.Data != "" {
			body = strings.NewReader(renderTemplate(pool, n.config.Body.Data))
		}

		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(n.config.Method), reqURL.String(), body)
		if err != nil {
			return workflow.FailedResult(fmt.Errorf("build request: %w", err))
		}
		for k, v := range n.config.Headers {
			req.Header.Set(k, renderTemplate(pool, v))
		}
		if n.config.Body.Type == "json" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		inputs := map[string]any{
			"method": req.Method,
			"url":    reqURL.String(),
		}

		resp, err := n.client.Do(req)
		if err != nil {
			result := workflow.FailedResult(fmt.Errorf("request failed: %w", err))
			result.Inputs = inputs
			result.ErrorType = "HTTPRequestError"
			return result
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
		if err != nil {
			result := workflow.FailedResult(fmt.Errorf("read response: %w", err))
			result.Inputs = inputs
			result.ErrorType = "HTTPRequestError"
			return result
		}
		if len(respBody) > maxResponseBody {
			result := workflow.FailedResult(
				fmt.Errorf("response exceeds %d bytes", maxResponseBody))
			result.Inputs = inputs
			result.ErrorType = "HTTPResponseTooLarge"
			return result
		}

		headers := make(map[string]any, len(resp.Header))
		for k, values := range resp.Header {
			headers[k] = strings.Join(values, ", ")
		}
		outputs := map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(respBody),
			"headers":     headers,
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return workflow.NodeRunResult{
				Status:    workflow.NodeRunStatusFailed,
				Inputs:    inputs,
				Outputs:   outputs,
				Error:     fmt.Sprintf("request returned status %d", resp.StatusCode),
				ErrorType: "HTTPResponseCodeError",
			}
		}
		return workflow.SucceededResult(inputs, outputs)
	})
}
