//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type managedProcess struct {
	name   string
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}

	mu      sync.RWMutex
	exited  bool
	exitErr error
}

type localStack struct {
	root   string
	apiURL string
	api    *managedProcess
}

var (
	buildOnce sync.Once
	buildErr  error
)

func TestSignupLoginAndEventLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	stack := startLocalStack(t)
	token := signupAndGetToken(t, stack.apiURL, "owner")

	title := fmt.Sprintf("integration-event-%d", time.Now().UnixNano())
	status, body := apiRequest(t, stack.apiURL, http.MethodPost, "/api/v1/events", token, map[string]any{
		"title":    title,
		"date":     time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"category": "Meeting",
	})
	if status != http.StatusCreated {
		t.Fatalf("create event failed status=%d body=%s", status, body)
	}
	var created struct {
		ID    string `json:"id"`
		Badge string `json:"badge"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatalf("invalid create response JSON: %v body=%s", err, body)
	}
	if created.ID == "" || created.Badge != "Upcoming" {
		t.Fatalf("unexpected create response: %s", body)
	}

	status, body = apiRequest(t, stack.apiURL, http.MethodGet, "/api/v1/events?category=Meeting", token, nil)
	if status != http.StatusOK {
		t.Fatalf("list events failed status=%d body=%s", status, body)
	}
	if !strings.Contains(body, created.ID) {
		t.Fatalf("created event %s missing from filtered list: %s", created.ID, body)
	}

	updatedTitle := title + "-updated"
	status, body = apiRequest(t, stack.apiURL, http.MethodPut, "/api/v1/events/"+created.ID, token, map[string]any{
		"title": updatedTitle,
	})
	if status != http.StatusOK {
		t.Fatalf("update event failed status=%d body=%s", status, body)
	}
	if !strings.Contains(body, updatedTitle) || !strings.Contains(body, `"Meeting"`) {
		t.Fatalf("update lost fields: %s", body)
	}

	status, _ = apiRequest(t, stack.apiURL, http.MethodDelete, "/api/v1/events/"+created.ID, token, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete event failed status=%d", status)
	}
	status, _ = apiRequest(t, stack.apiURL, http.MethodDelete, "/api/v1/events/"+created.ID, token, nil)
	if status != http.StatusNoContent {
		t.Fatalf("repeated delete should succeed, got status=%d", status)
	}

	status, body = apiRequest(t, stack.apiURL, http.MethodGet, "/api/v1/events", token, nil)
	if status != http.StatusOK {
		t.Fatalf("final list failed status=%d body=%s", status, body)
	}
	if strings.Contains(body, created.ID) {
		t.Fatalf("deleted event %s still listed: %s", created.ID, body)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	stack := startLocalStack(t)
	status, body := apiRequest(t, stack.apiURL, http.MethodGet, "/api/v1/events", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got status=%d body=%s", status, body)
	}
	var errResp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &errResp); err != nil || errResp.Message == "" {
		t.Fatalf("expected message envelope, got body=%s", body)
	}
}

func startLocalStack(t *testing.T) *localStack {
	t.Helper()

	databaseURL := os.Getenv("INTEGRATION_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("INTEGRATION_DATABASE_URL not set; start postgres and point it there to run this test")
	}

	root := repoRoot(t)
	buildServices(t, root)

	stack := &localStack{
		root:   root,
		apiURL: "http://127.0.0.1:18080",
	}
	stack.api = startProcess(t, root, "event-api", []string{
		"EVENT_API_ADDR=:18080",
		"UI_ORIGIN=http://localhost:18081",
		"DATABASE_URL=" + databaseURL,
		"JWT_SECRET=integration-secret",
		"UPLOAD_DIR=" + t.TempDir(),
	}, "./bin/event-api")

	t.Cleanup(func() {
		stopProcess(stack.api)
	})

	requireProcessesAlive(t, stack.api)
	waitForTCP(t, "127.0.0.1:18080", 30*time.Second, stack.api)
	waitForReady(t, stack.apiURL, 30*time.Second, stack.api)
	return stack
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate repository root from %s", dir)
		}
		dir = parent
	}
}

func buildServices(t *testing.T, root string) {
	t.Helper()
	buildOnce.Do(func() {
		buildErr = runCommandErr(root, "go", "build", "-o", "bin/event-api", "./cmd/event-api")
	})
	if buildErr != nil {
		t.Fatalf("build event-api failed: %v", buildErr)
	}
}

func runCommandErr(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command failed: %s %v\nerror: %v\noutput:\n%s", name, args, err, string(output))
	}
	return nil
}

func startProcess(t *testing.T, dir string, name string, env []string, command string, args ...string) *managedProcess {
	t.Helper()
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	p := &managedProcess{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start %s: %v", name, err)
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func stopProcess(p *managedProcess) {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}

	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
		return
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func waitForTCP(t *testing.T, addr string, timeout time.Duration, processes ...*managedProcess) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		requireProcessesAlive(t, processes...)

		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for tcp service at %s\n%s", addr, processDebug(processes...))
}

func waitForReady(t *testing.T, apiURL string, timeout time.Duration, processes ...*managedProcess) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		requireProcessesAlive(t, processes...)

		resp, err := client.Get(apiURL + "/readyz")
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s/readyz\n%s", apiURL, processDebug(processes...))
}

func signupAndGetToken(t *testing.T, apiURL string, namePrefix string) string {
	t.Helper()
	email := fmt.Sprintf("%s_%d@example.com", namePrefix, time.Now().UnixNano())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", "Integration "+namePrefix)
	_ = mw.WriteField("email", email)
	_ = mw.WriteField("password", "password123")
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer failed: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, apiURL+"/api/auth/signup", &buf)
	if err != nil {
		t.Fatalf("create signup request failed: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read signup response failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup failed status=%d body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		Token string `json:"token"`
		User  struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("invalid signup JSON: %v body=%s", err, body)
	}
	if parsed.Token == "" || parsed.User.Email != email {
		t.Fatalf("unexpected signup response: %s", body)
	}

	// The login path must agree with signup on credentials.
	loginBody, _ := json.Marshal(map[string]string{"email": email, "password": "password123"})
	loginResp, err := client.Post(apiURL+"/api/auth/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	defer loginResp.Body.Close()
	loginPayload, _ := io.ReadAll(loginResp.Body)
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", loginResp.StatusCode, loginPayload)
	}
	if err := json.Unmarshal(loginPayload, &parsed); err != nil || parsed.Token == "" {
		t.Fatalf("invalid login JSON: %v body=%s", err, loginPayload)
	}
	return parsed.Token
}

func apiRequest(t *testing.T, apiURL string, method string, path string, token string, payload map[string]any) (int, string) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		reqBytes, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload failed: %v", err)
		}
		body = bytes.NewReader(reqBytes)
	}
	req, err := http.NewRequest(method, apiURL+path, body)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body failed: %v", err)
	}
	return resp.StatusCode, string(respBody)
}

func (p *managedProcess) debugString() string {
	return fmt.Sprintf("[%s]\nstdout:\n%s\nstderr:\n%s\n", p.name, p.stdout.String(), p.stderr.String())
}

func (p *managedProcess) state() (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exited, p.exitErr
}

func requireProcessesAlive(t *testing.T, processes ...*managedProcess) {
	t.Helper()
	for _, p := range processes {
		exited, err := p.state()
		if exited {
			if err == nil {
				t.Fatalf("%s exited unexpectedly.\n%s", p.name, p.debugString())
			}
			t.Fatalf("%s failed: %v\n%s", p.name, err, p.debugString())
		}
	}
}

func processDebug(processes ...*managedProcess) string {
	var out []string
	for _, p := range processes {
		out = append(out, p.debugString())
	}
	return strings.Join(out, "\n")
}
