package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"

	"sop-platform/internal/agent/sop"
	"sop-platform/internal/app"
)

func parse(t *testing.T, args ...string) *CLI {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse(args); err != nil {
		t.Fatal(err)
	}
	return &cli
}

func TestRunCmd_Flags(t *testing.T) {
	cli := parse(t, "run", "triage", "-s", "ticket=T-1", "--set", "owner=ops", "--max-rounds", "4", "-o", "json")
	if cli.Run.Procedure != "triage" {
		t.Errorf("procedure = %q", cli.Run.Procedure)
	}
	if cli.Run.Set["ticket"] != "T-1" || cli.Run.Set["owner"] != "ops" {
		t.Errorf("set = %v", cli.Run.Set)
	}
	if cli.Run.MaxRounds != 4 || cli.Run.Output != "json" {
		t.Errorf("unexpected run cmd: %+v", cli.Run)
	}
	if cli.Run.APIURL != "http://localhost:8080" {
		t.Errorf("api url default = %q", cli.Run.APIURL)
	}
}

func TestSessionsCmd_Flags(t *testing.T) {
	cli := parse(t, "sessions", "session-1", "--exchanges", "--api-url", "http://sop:9000")
	if cli.Sessions.ID != "session-1" || !cli.Sessions.Exchanges {
		t.Errorf("unexpected sessions cmd: %+v", cli.Sessions)
	}
	if cli.Sessions.APIURL != "http://sop:9000" || cli.Sessions.Limit != 20 {
		t.Errorf("unexpected remote: %+v", cli.Sessions)
	}
}

func TestRunContext(t *testing.T) {
	rc, err := runContext(`{"ticket":"T-1","priority":2}`, map[string]string{"ticket": "T-2"})
	if err != nil {
		t.Fatal(err)
	}
	if rc["ticket"] != "T-2" {
		t.Errorf("--set must override json, got %v", rc["ticket"])
	}
	if rc["priority"] != float64(2) {
		t.Errorf("priority = %v", rc["priority"])
	}
	if _, err := runContext(`[1,2]`, nil); err == nil {
		t.Error("expected error for non-object json")
	}
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	good := "id: triage\nprompts:\n  worker_system: s\n  worker_user: u\n"
	bad := "id: Bad ID\nprompts:\n  worker_system: s\n"
	files := map[string]string{"a.yaml": good, "b.yml": bad, "c.yaml": good}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ok, failed, err := validateDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ok) != 1 || ok[0] != "triage" {
		t.Errorf("ok = %v", ok)
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %v", failed)
	}
	joined := strings.Join(failed, "\n")
	if !strings.Contains(joined, "already defined") || !strings.Contains(joined, "worker_user is required") {
		t.Errorf("unexpected failures: %s", joined)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	res := &sop.Result{Success: true, ProcedureID: "triage", SessionID: "s1", RoundsCompleted: 3, ToolsUsed: []string{"a", "b"}, CompletionSummary: "done"}
	if err := printResult(&buf, res, "summary"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Rounds:     3") || !strings.Contains(buf.String(), "done") {
		t.Errorf("summary output: %s", buf.String())
	}

	buf.Reset()
	if err := printResult(&buf, sop.SetupFailure("triage", "no key", "set it"), "summary"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "could not start: no key") || !strings.Contains(buf.String(), "Suggestion: set it") {
		t.Errorf("failure output: %s", buf.String())
	}
}

func TestAPIClient_RunProcedure(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(sop.SetupFailure("triage", "no key", "set it"))
	}))
	defer srv.Close()

	c := newAPIClient(Remote{APIURL: srv.URL, Token: "tok"})
	res, err := c.RunProcedure(context.Background(), app.RunRequest{ProcedureID: "triage", Context: map[string]any{"ticket": "T-1"}, MaxRounds: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Suggestion != "set it" {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer tok" || gotPath != "/api/procedures/triage/run" {
		t.Errorf("auth=%q path=%q", gotAuth, gotPath)
	}
	if gotBody["max_rounds"] != float64(2) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestAPIClient_ListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("procedure_id") != "triage" || r.URL.Query().Get("limit") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","procedure_id":"triage","status":"COMPLETED"}],"total":1}`))
	}))
	defer srv.Close()

	list, err := newAPIClient(Remote{APIURL: srv.URL}).ListSessions(context.Background(), "triage", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "s1" {
		t.Errorf("sessions = %+v", list)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(&exitError{code: 2, err: errors.New("x")}); got != 2 {
		t.Errorf("exitCode = %d", got)
	}
	if got := exitCode(errors.New("x")); got != 1 {
		t.Errorf("exitCode = %d", got)
	}
}
