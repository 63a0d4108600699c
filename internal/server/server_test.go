package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/config"
	"github.com/jackzampolin/stacks/internal/defra"
	"github.com/jackzampolin/stacks/internal/home"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/server/endpoints"
	"github.com/jackzampolin/stacks/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeWebhook answers every ingestion with both primaries ok.
func fakeWebhook(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"primary_ok":true},{"primary_ok":true},{"secondary_ok":true}]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testManager(t *testing.T, content string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	mgr, err := config.NewManager(path, "", quietLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

// startMemoryServer starts a memory-mode server on a free port and stops it
// when the test ends.
func startMemoryServer(t *testing.T, mgr *config.Manager) (*Server, string, func() error) {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	srv, err := New(Config{
		Host:          "127.0.0.1",
		Port:          "0",
		Memory:        true,
		ConfigManager: mgr,
		Home:          h,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-serverErr:
		cancel()
		t.Fatalf("Start() error = %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-serverErr:
			return err
		case <-time.After(30 * time.Second):
			return fmt.Errorf("server did not shut down within timeout")
		}
	}
	t.Cleanup(func() { _ = stop() })
	return srv, "http://" + srv.Addr(), stop
}

func TestServer_MemoryMode(t *testing.T) {
	hook := fakeWebhook(t)
	mgr := testManager(t, fmt.Sprintf(`
server:
  env_file: ""
ingestion:
  webhook_url: %s
`, hook.URL))

	srv, baseURL, stop := startMemoryServer(t, mgr)
	client := api.NewClient(baseURL)
	ctx := context.Background()

	t.Run("health_endpoint", func(t *testing.T) {
		var health endpoints.HealthResponse
		if err := client.Get(ctx, "/health", &health); err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("ready_endpoint", func(t *testing.T) {
		var health endpoints.HealthResponse
		if err := client.Get(ctx, "/ready", &health); err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		if health.Defra != "disabled" {
			t.Errorf("health.Defra = %q, want %q", health.Defra, "disabled")
		}
	})

	t.Run("status_reports_capabilities", func(t *testing.T) {
		var status endpoints.StatusResponse
		if err := client.Get(ctx, "/status", &status); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if status.Server != "running" {
			t.Errorf("Server = %q, want running", status.Server)
		}
		if status.Capabilities == nil || !status.Capabilities.Ingestion || !status.Capabilities.BlobStore {
			t.Errorf("Capabilities = %+v, want ingestion and blob store", status.Capabilities)
		}
		if status.Capabilities != nil && status.Capabilities.RemoteProcessing {
			t.Error("RemoteProcessing = true without a public key")
		}
	})

	t.Run("ingest_round_trip", func(t *testing.T) {
		var doc library.Document
		fields := map[string][]string{
			"title":           {"Round Trip"},
			"author":          {"A. Writer"},
			"publicationYear": {"2020"},
			"publisher":       {"Press"},
			"summary":         {"About things."},
			"keywords[]":      {"things"},
			"categories[]":    {"misc"},
		}
		if err := client.Upload(ctx, "/api/documents", fields, "file", "round.txt", []byte("words"), &doc); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		var res struct {
			Success bool           `json:"success"`
			Status  library.Status `json:"status"`
		}
		if err := client.Post(ctx, "/api/documents/"+doc.ID+"/ingest", nil, &res); err != nil {
			t.Fatalf("ingest error = %v", err)
		}
		if !res.Success || res.Status != library.StatusSuccess {
			t.Errorf("ingest = %+v, want success", res)
		}
	})

	t.Run("settings_hide_literal_secrets", func(t *testing.T) {
		var cfg config.Config
		if err := client.Get(ctx, "/api/settings", &cfg); err != nil {
			t.Fatalf("settings failed: %v", err)
		}
		if cfg.Ingestion.WebhookURL != hook.URL {
			t.Errorf("WebhookURL = %q, want %q", cfg.Ingestion.WebhookURL, hook.URL)
		}
	})

	t.Run("metrics_unavailable_in_memory", func(t *testing.T) {
		err := client.Get(ctx, "/api/metrics", nil)
		if se, ok := err.(*api.ServerError); !ok || se.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("metrics error = %v, want 503", err)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	if err := stop(); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
		if srv.Console() != nil {
			t.Error("Console() != nil after shutdown")
		}
	})

	t.Run("restart_rejected", func(t *testing.T) {
		if err := srv.Start(context.Background()); err == nil {
			t.Error("Start() after shutdown should return error")
		}
	})
}

// TestServer_DoubleStart tests that starting a running server returns an error.
func TestServer_DoubleStart(t *testing.T) {
	mgr := testManager(t, "server:\n  env_file: \"\"\n")
	srv, _, _ := startMemoryServer(t, mgr)

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should return error")
	}
}

func TestServer_RequireInit(t *testing.T) {
	srv, err := New(Config{Memory: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/api/documents", http.StatusServiceUnavailable},
		{"/api/processing", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

// TestServer_FullLifecycle tests the complete server lifecycle including DefraDB.
// This test requires Docker to be running.
func TestServer_FullLifecycle(t *testing.T) {
	testutil.RequireDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	containerName := testutil.ContainerName(t, "server")
	srv, err := New(Config{
		Host: "127.0.0.1",
		Port: "0",
		DefraConfig: defra.DockerConfig{
			ContainerName: containerName,
			DataPath:      t.TempDir(),
			HostPort:      testutil.FreePort(t),
			Labels:        testutil.ContainerLabels(t),
		},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	select {
	case <-srv.Ready():
	case err := <-serverErr:
		serverCancel()
		t.Fatalf("Start() error = %v", err)
	case <-ctx.Done():
		serverCancel()
		t.Fatal("server did not become ready")
	}

	client := api.NewClient("http://" + srv.Addr())

	t.Run("ready_endpoint", func(t *testing.T) {
		var health endpoints.HealthResponse
		if err := client.Get(ctx, "/ready", &health); err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		if health.Defra != "ok" {
			t.Errorf("health.Defra = %q, want %q", health.Defra, "ok")
		}
	})

	t.Run("documents_persist", func(t *testing.T) {
		var doc library.Document
		err := client.Upload(ctx, "/api/documents", map[string][]string{"title": {"Stored"}}, "", "", nil, &doc)
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		var got library.Document
		if err := client.Get(ctx, "/api/documents/"+doc.ID, &got); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Title != "Stored" {
			t.Errorf("Title = %q, want %q", got.Title, "Stored")
		}
	})

	serverCancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Logf("server returned error (expected during shutdown): %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}

	t.Run("defra_stopped_after_shutdown", func(t *testing.T) {
		mgr, err := defra.NewDockerManager(defra.DockerConfig{ContainerName: containerName})
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("failed to get status: %v", err)
		}
		if status == defra.StatusRunning {
			t.Error("DefraDB still running after server shutdown")
		}
	})
}
