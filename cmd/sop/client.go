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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/sop"
	"sop-platform/internal/app"
)

// apiClient 访问 sop API 服务
type apiClient struct {
	client *resty.Client
}

func newAPIClient(r Remote) *apiClient {
	base := r.APIURL
	if base == "" {
		base = "http://localhost:8080"
	}
	c := resty.New().
		SetBaseURL(base).
		SetTimeout(30*time.Minute).
		SetHeader("Content-Type", "application/json")
	if r.Token != "" {
		c.SetAuthToken(r.Token)
	}
	return &apiClient{client: c}
}

// procedureSummary GET /api/procedures 的条目
type procedureSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	MaxRounds    int      `json:"max_rounds"`
	AllowedTools []string `json:"allowed_tools"`
}

func (a *apiClient) ListProcedures(ctx context.Context) ([]procedureSummary, error) {
	var out struct {
		Procedures []procedureSummary `json:"procedures"`
	}
	resp, err := a.client.R().SetContext(ctx).SetResult(&out).Get("/api/procedures")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/procedures: %s", resp.String())
	}
	return out.Procedures, nil
}

// RunProcedure POST /api/procedures/:id/run；422 时仍返回 Result
func (a *apiClient) RunProcedure(ctx context.Context, req app.RunRequest) (*sop.Result, error) {
	body := map[string]any{"context": req.Context, "max_rounds": req.MaxRounds}
	resp, err := a.client.R().SetContext(ctx).SetBody(body).
		Post("/api/procedures/" + url.PathEscape(req.ProcedureID) + "/run")
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusUnprocessableEntity:
		var res sop.Result
		if err := json.Unmarshal(resp.Body(), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return &res, nil
	default:
		return nil, fmt.Errorf("POST run %s: %s", req.ProcedureID, resp.String())
	}
}

func (a *apiClient) ListSessions(ctx context.Context, procedureID string, limit int) ([]*recorder.Session, error) {
	var out struct {
		Sessions []*recorder.Session `json:"sessions"`
	}
	r := a.client.R().SetContext(ctx).SetResult(&out)
	if procedureID != "" {
		r.SetQueryParam("procedure_id", procedureID)
	}
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := r.Get("/api/sessions")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/sessions: %s", resp.String())
	}
	return out.Sessions, nil
}

func (a *apiClient) GetSession(ctx context.Context, id string) (*recorder.Session, error) {
	var out recorder.Session
	resp, err := a.client.R().SetContext(ctx).SetResult(&out).Get("/api/sessions/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/sessions/%s: %s", id, resp.String())
	}
	return &out, nil
}

func (a *apiClient) GetExchanges(ctx context.Context, id string) ([]recorder.Exchange, error) {
	var out struct {
		Exchanges []recorder.Exchange `json:"exchanges"`
	}
	resp, err := a.client.R().SetContext(ctx).SetResult(&out).Get("/api/sessions/" + url.PathEscape(id) + "/exchanges")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET exchanges: %s", resp.String())
	}
	return out.Exchanges, nil
}

func prettyJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
