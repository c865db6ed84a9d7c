//go:build e2e

package e2e

import (
	"aurorarest/internal/api"
	"aurorarest/internal/aurora"
	"aurorarest/internal/executor"
	"aurorarest/internal/health"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAurora stands in for the aurora client. It keeps one file per job
// in a state directory so that list, create and kill see each other.
const fakeAurora = `#!/bin/sh
state="%s"
cmd="$1"; shift
case "$1" in --shards=*) shift ;; esac
key="$1"
file="$state/$(echo "$key" | tr / _)"
case "$cmd" in
list_jobs)
	for f in "$file"_*; do
		[ -e "$f" ] && cat "$f"
	done
	exit 0 ;;
create)
	[ -f "$2" ] || { echo "Error: no config file"; exit 1; }
	[ -e "$file" ] && { echo "Error: job $key already exists"; exit 1; }
	echo "$key" > "$file"
	echo "INFO] Response from scheduler: OK (message: 1 new tasks pending for job $key)" ;;
update|restart|cancel_update)
	[ -e "$file" ] || { echo "Error: job $key not found" >&2; exit 1; }
	echo "INFO] Response from scheduler: OK (message: $cmd accepted)" ;;
kill|killall)
	[ -e "$file" ] || { echo "Error: no jobs found for $key" >&2; exit 1; }
	rm -f "$file"
	echo "INFO] Response from scheduler: OK (message: tasks killed)" ;;
*)
	echo "unknown command $cmd" >&2
	exit 2 ;;
esac
`

// getTestURL returns the base URL for e2e tests. Jobs routes live under /alpha.
// If E2E_API_URL is set, tests run against that instance.
// Otherwise, a test server is created.
func getTestURL(t testing.TB) (string, func()) {
	if url := os.Getenv("E2E_API_URL"); url != "" {
		t.Logf("Using external API: %s", url)
		return strings.TrimRight(url, "/"), func() {}
	}

	server, cleanup := createTestServer(t)
	return server.URL, cleanup
}

func createTestServer(t testing.TB) (*httptest.Server, func()) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	if err := os.Mkdir(state, 0o755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}
	client := filepath.Join(dir, "aurora")
	if err := os.WriteFile(client, []byte(fmt.Sprintf(fakeAurora, state)), 0o755); err != nil {
		t.Fatalf("Failed to write fake aurora client: %v", err)
	}

	exec, err := executor.New(executor.Config{
		Strategy:   executor.StrategyThread,
		MaxWorkers: 4,
	}, aurora.NewCommandDelegate(aurora.NewExecRunner(client)), nil)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Executor:      exec,
		HealthChecker: health.NewChecker(exec),
		URLPrefix:     "alpha",
	})
	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := exec.Close(ctx); err != nil {
			t.Errorf("Failed to close executor: %v", err)
		}
	}
	return server, cleanup
}

type jobResponse struct {
	Status string   `json:"status"`
	Key    string   `json:"key"`
	Count  int      `json:"count"`
	Job    any      `json:"job"`
	Errors []string `json:"errors"`
}

type listResponse struct {
	Status string            `json:"status"`
	Key    string            `json:"key"`
	Count  int               `json:"count"`
	Jobs   map[string]string `json:"jobs"`
}

func do(t testing.TB, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func decode[T any](t testing.TB, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

var spec = []byte("jobs = [Service(name = 'hello', role = 'www-data', environment = 'prod')]\n")

func TestAPI_Readyz(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	result := decode[health.Response](t, resp)
	if result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy status, got %s", result.Status)
	}
}

func TestAPI_Livez(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/livez")
	if err != nil {
		t.Fatalf("Liveness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestAPI_JobLifecycle(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	role := fmt.Sprintf("e2e%d", time.Now().UnixNano())
	list := baseURL + "/alpha/jobs/devcluster/" + role
	jobURL := list + "/prod/hello"
	key := "devcluster/" + role + "/prod/hello"

	resp := do(t, http.MethodGet, list, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 before create, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = do(t, http.MethodPut, jobURL, spec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 on create, got %d", resp.StatusCode)
	}
	created := decode[jobResponse](t, resp)
	if created.Status != "success" || created.Job != key {
		t.Errorf("Unexpected create response: %+v", created)
	}

	resp = do(t, http.MethodGet, list, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on list, got %d", resp.StatusCode)
	}
	listed := decode[listResponse](t, resp)
	if listed.Count != 1 || listed.Jobs["1"] != key {
		t.Errorf("Unexpected list response: %+v", listed)
	}

	for _, step := range []struct {
		method string
		path   string
		body   []byte
	}{
		{http.MethodPut, "/update?shards=0-1", spec},
		{http.MethodDelete, "/update", nil},
		{http.MethodPut, "/restart?shards=0", nil},
	} {
		resp := do(t, step.method, jobURL+step.path, step.body)
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("%s %s: expected 202, got %d", step.method, step.path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = do(t, http.MethodDelete, jobURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", resp.StatusCode)
	}
	deleted := decode[jobResponse](t, resp)
	if deleted.Job != key || deleted.Count != 1 {
		t.Errorf("Unexpected delete response: %+v", deleted)
	}

	resp = do(t, http.MethodGet, list, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_CreateTwiceFails(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	jobURL := fmt.Sprintf("%s/alpha/jobs/devcluster/e2e%d/prod/dup", baseURL, time.Now().UnixNano())

	resp := do(t, http.MethodPut, jobURL, spec)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPut, jobURL, spec)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500 on duplicate create, got %d", resp.StatusCode)
	}
	failed := decode[jobResponse](t, resp)
	if failed.Status != "failure" || len(failed.Errors) == 0 {
		t.Errorf("Unexpected failure response: %+v", failed)
	}
}

func TestAPI_CreateWithoutSpec(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	resp := do(t, http.MethodPut, baseURL+"/alpha/jobs/devcluster/www-data/prod/nospec", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", resp.StatusCode)
	}
	failed := decode[jobResponse](t, resp)
	if len(failed.Errors) == 0 {
		t.Error("Expected errors in response")
	}
}

func TestAPI_ConcurrentJobs(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	const numJobs = 10
	role := fmt.Sprintf("e2e%d", time.Now().UnixNano())

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := range numJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := fmt.Sprintf("%s/alpha/jobs/devcluster/%s/prod/job%d", baseURL, role, i)
			req, _ := http.NewRequest(http.MethodPut, url, bytes.NewReader(spec))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if created.Load() != numJobs {
		t.Fatalf("Expected %d jobs created, got %d", numJobs, created.Load())
	}

	resp := do(t, http.MethodGet, baseURL+"/alpha/jobs/devcluster/"+role, nil)
	listed := decode[listResponse](t, resp)
	if listed.Count != numJobs {
		t.Errorf("Expected %d listed jobs, got %d", numJobs, listed.Count)
	}
}
