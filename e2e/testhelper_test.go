package e2e

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/tunesmith/api/internal/handler"
	"github.com/tunesmith/api/internal/queue"
	"github.com/tunesmith/api/internal/store"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	queue *queue.Service
	store *store.MemoryStore
}

// setupApp creates a Fiber app wired like main.go but fully in-process:
// in-memory store, no notifier, no Redis, no remote tiers.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	st := store.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	queueService := queue.NewService(st, nil, log)

	validate := validator.New()

	jobHandler := handler.NewJobHandler(queueService, validate)
	trackHandler := handler.NewTrackHandler(queueService, validate)
	healthHandler := handler.NewHealthHandler(st, nil, nil, nil)

	app := fiber.New(fiber.Config{
		BodyLimit: 5 * 1024 * 1024,
	})

	app.Get("/health", healthHandler.Health)

	api := app.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Post("/", jobHandler.Create)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/stats", jobHandler.Stats)
	jobs.Get("/:id", jobHandler.Get)
	jobs.Get("/:id/events", jobHandler.Events)
	jobs.Post("/:id/progress", jobHandler.Progress)
	jobs.Post("/:id/cancel", jobHandler.Cancel)
	jobs.Delete("/:id", jobHandler.Delete)

	tracks := api.Group("/tracks")
	tracks.Get("/", trackHandler.List)
	tracks.Get("/:id", trackHandler.Get)
	tracks.Patch("/:id/metadata", trackHandler.PatchMetadata)

	return &testApp{app: app, queue: queueService, store: st}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// createJob enqueues a generation job over HTTP and returns its id.
func createJob(t *testing.T, ta *testApp) string {
	t.Helper()
	resp, err := doRequest(ta.app, "POST", "/api/jobs/",
		`{"jobType":"generation","requestData":{"prompt":"calm piano"},"priority":5}`)
	if err != nil {
		t.Fatalf("create job request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	body := parseJSON(t, resp)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create job returned no id: %v", body)
	}
	return id
}
