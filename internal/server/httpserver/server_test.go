package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/warmstart/internal/server/httpserver/handler"
)

type fixedStatus struct{ ready bool }

func (f fixedStatus) Status() handler.Status {
	st := handler.Status{State: "RESTORING", Ready: f.ready}
	if f.ready {
		st.State = "RUNNING"
	}
	return st
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_StartShutdown(t *testing.T) {
	s := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), nil)

	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start("127.0.0.1:0"); err == nil {
		t.Error("second Start() should fail")
	}
	if resp := get(t, "http://"+s.Addr()+"/"); resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
	if s.Addr() != "" {
		t.Errorf("Addr() after shutdown = %q", s.Addr())
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown error: %v", err)
	}
}

func TestServer_Rebind(t *testing.T) {
	s := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), nil)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	first := s.Addr()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(func() { _ = s.Shutdown(ctx) })

	if err := s.Rebind(ctx, "127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	second := s.Addr()
	if second == "" || second == first {
		t.Errorf("Addr() after rebind = %q, before %q", second, first)
	}
	if resp := get(t, "http://"+second+"/"); resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestNewRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "warmstart_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	cfg := DefaultRouterConfig()
	cfg.Status = fixedStatus{ready: false}
	cfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	s := New(NewRouter(cfg), nil)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	base := "http://" + s.Addr()

	resp := get(t, base+"/health")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("/health = %d, request id %q", resp.StatusCode, resp.Header.Get("X-Request-ID"))
	}

	resp = get(t, base+"/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/ready = %d, want 503", resp.StatusCode)
	}

	resp = get(t, base+"/status")
	var body handler.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "OK" || body.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("/status envelope = %+v", body)
	}

	resp = get(t, base+"/metrics")
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "warmstart_test_total 1") {
		t.Errorf("/metrics body = %s", buf.String())
	}
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()
	if cfg.GlobalRateLimit <= 0 {
		t.Error("GlobalRateLimit should be positive")
	}
	if !cfg.EnableAudit {
		t.Error("audit should be enabled by default")
	}
}
