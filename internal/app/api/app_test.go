package api

import (
	"context"
	"testing"

	"github.com/cloudwego/hertz/pkg/common/ut"

	"sop-platform/internal/app"
	"sop-platform/pkg/config"
)

func newBootstrap(t *testing.T, mutate func(*config.Config)) *app.Bootstrap {
	t.Helper()
	cfg := config.Default()
	cfg.Procedures.Dir = t.TempDir()
	cfg.Log.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}
	b, err := app.NewBootstrap(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewBootstrap: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewApp_ServesHealth(t *testing.T) {
	a, err := NewApp(newBootstrap(t, nil))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	h := a.Build(":0")
	w := ut.PerformRequest(h.Engine, "GET", "/api/procedures", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Errorf("procedures status = %d, want 200", got)
	}
}

func TestNewApp_AuthRequiresKeys(t *testing.T) {
	t.Setenv("API_JWT_KEY", "")
	b := newBootstrap(t, func(c *config.Config) {
		c.API.Middleware.Auth = true
		c.API.Middleware.LoginKey = "login"
	})
	if _, err := NewApp(b); err == nil {
		t.Fatal("expected error when jwt key is missing")
	}
}

func TestNewApp_AuthEnabled(t *testing.T) {
	b := newBootstrap(t, func(c *config.Config) {
		c.API.Middleware.Auth = true
		c.API.Middleware.JWTKey = "signing"
		c.API.Middleware.LoginKey = "login"
		c.API.Middleware.JWTTimeout = "30m"
	})
	a, err := NewApp(b)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	h := a.Build(":0")
	w := ut.PerformRequest(h.Engine, "GET", "/api/procedures", nil)
	if got := w.Result().StatusCode(); got != 401 {
		t.Errorf("unauthenticated status = %d, want 401", got)
	}
}

func TestAddr(t *testing.T) {
	cfg := &config.Config{}
	if got := Addr(cfg); got != ":8080" {
		t.Errorf("Addr default = %q", got)
	}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 9000
	if got := Addr(cfg); got != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", got)
	}
}
