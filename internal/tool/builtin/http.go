// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"sop-platform/internal/agent/tools"
)

// HTTPToolName 内置 HTTP 工具名
const HTTPToolName = "http_request"

const defaultHTTPTimeout = 15 * time.Second

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// HTTPTool 实现 http_request
type HTTPTool struct {
	client       *resty.Client
	allowedHosts []string
}

// NewHTTPTool 创建 http_request 工具；allowedHosts 为空表示不限制，以 "." 开头的项匹配子域名
func NewHTTPTool(timeout time.Duration, allowedHosts []string) *HTTPTool {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New().SetTimeout(timeout)
	if len(allowedHosts) > 0 {
		client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5), redirectHostPolicy(allowedHosts))
	}
	return &HTTPTool{client: client, allowedHosts: allowedHosts}
}

// Descriptor 工具描述
func (t *HTTPTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        HTTPToolName,
		Description: "Send an HTTP request and return the status code and response body. Provide url, optionally method (default GET), body and headers.",
		Parameters: tools.Schema{
			Type: "object",
			Properties: map[string]tools.Property{
				"url":     {Type: "string", Description: "Absolute http or https URL"},
				"method":  {Type: "string", Description: "GET, POST, PUT, PATCH, DELETE or HEAD"},
				"body":    {Type: "string", Description: "Request body"},
				"headers": {Type: "object", Description: "Request headers"},
			},
			Required: []string{"url"},
		},
		Invoke: t.Execute,
	}
}

// Execute 发送请求；非 2xx 状态码不视为错误，由模型解读
func (t *HTTPTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	rawURL, _ := input["url"].(string)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	method, _ := input["method"].(string)
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url: %q", rawURL)
	}
	if !hostAllowed(u.Hostname(), t.allowedHosts) {
		return nil, fmt.Errorf("host not allowed: %s", u.Hostname())
	}

	req := t.client.R().SetContext(ctx)
	if h, ok := input["headers"].(map[string]any); ok {
		for k, v := range h {
			req.SetHeader(k, fmt.Sprint(v))
		}
	}
	if b, ok := input["body"].(string); ok && b != "" {
		req.SetBody(b)
	}
	resp, err := req.Execute(method, u.String())
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Redacted(), err)
	}
	return map[string]any{
		"status_code":  resp.StatusCode(),
		"content_type": resp.Header().Get("Content-Type"),
		"body":         resp.String(),
	}, nil
}

func hostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, ".") {
			if strings.HasSuffix(host, a) || host == strings.TrimPrefix(a, ".") {
				return true
			}
			continue
		}
		if host == a {
			return true
		}
	}
	return false
}

func redirectHostPolicy(allowed []string) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if !hostAllowed(req.URL.Hostname(), allowed) {
			return fmt.Errorf("redirect to host not allowed: %s", req.URL.Hostname())
		}
		return nil
	})
}
