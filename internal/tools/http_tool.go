package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NewHTTPRequestTool creates the http_request tool
func NewHTTPRequestTool() *Tool {
	return &Tool{
		ID:          "http_request",
		Name:        "HTTP Request",
		Description: "Make an HTTP request to any URL. Returns status, headers and parsed body.",
		Params: map[string]Param{
			"url": {
				Type:        "string",
				Description: "Full request URL",
				Required:    true,
				Visibility:  VisibilityUserOrLLM,
			},
			"method": {
				Type:        "string",
				Description: "HTTP method (GET, POST, PUT, PATCH, DELETE). Defaults to GET.",
				Visibility:  VisibilityUserOrLLM,
				Default:     "GET",
			},
			"headers": {
				Type:        "object",
				Description: "Additional headers as key-value pairs",
				Visibility:  VisibilityUserOnly,
			},
			"body": {
				Type:        "object",
				Description: "JSON request body for POST/PUT/PATCH",
				Visibility:  VisibilityUserOrLLM,
			},
			"timeoutSeconds": {
				Type:       "number",
				Visibility: VisibilityHidden,
				Default:    30,
			},
		},
		Execute: executeHTTPRequest,
		TransformError: func(err error) string {
			return fmt.Sprintf("HTTP request failed: %v", err)
		},
	}
}

func executeHTTPRequest(ctx context.Context, args map[string]any) (map[string]any, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	method := "GET"
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var reqBody io.Reader
	if body, ok := args["body"].(map[string]any); ok && len(body) > 0 {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	timeout := 30 * time.Second
	if secs, ok := args["timeoutSeconds"].(int); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	} else if secs, ok := args["timeoutSeconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Parse JSON responses so downstream blocks can reference fields.
	var data any
	if err := json.Unmarshal(respBody, &data); err != nil {
		data = string(respBody)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request returned status %d: %.200s", resp.StatusCode, string(respBody))
	}

	return map[string]any{
		"status": resp.StatusCode,
		"data":   data,
	}, nil
}
