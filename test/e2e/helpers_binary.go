//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

const (
	e2eAPIKey        = "e2e-test-api-key"
	e2eWebhookSecret = "e2e-webhook-secret"
)

// triageServer manages a running triage server process.
type triageServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	logFile *os.File
	env     []string
}

// startTriage launches the triage binary on a fresh data directory and waits
// for it to become healthy. Configuration is passed through the environment.
func startTriage(t *testing.T, extraEnv ...string) *triageServer {
	t.Helper()
	requireTriage(t)
	return launch(t, t.TempDir(), "triage.log", extraEnv)
}

func launch(t *testing.T, dataDir, logName string, extraEnv []string) *triageServer {
	t.Helper()

	port := freePort(t)
	env := append(os.Environ(),
		fmt.Sprintf("TRIAGE_PORT=%d", port),
		"TRIAGE_DATABASE_DRIVER=sqlite",
		"TRIAGE_DB_PATH="+filepath.Join(dataDir, "triage.db"),
		"TRIAGE_API_KEY="+e2eAPIKey,
		"TRIAGE_WEBHOOK_SECRET="+e2eWebhookSecret,
		"TRIAGE_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"),
		"TRIAGE_LEARNING_INTERVAL=200ms",
		"OPENAI_API_KEY=",
		"TRIAGE_NATS_URL=",
	)
	env = append(env, extraEnv...)

	lf, err := os.Create(filepath.Join(dataDir, logName))
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}

	cmd := exec.Command(triageBin, "serve")
	cmd.Env = env
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start triage: %v", err)
	}

	s := &triageServer{
		cmd:     cmd,
		dataDir: dataDir,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		logFile: lf,
		env:     extraEnv,
	}
	t.Cleanup(s.stop)

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("triage not healthy: %v\n%s", err, s.logs())
	}
	return s
}

// restartOnSameData stops the server and starts a new one over the same
// database file.
func (s *triageServer) restartOnSameData(t *testing.T) *triageServer {
	t.Helper()
	s.stop()
	time.Sleep(200 * time.Millisecond)
	return launch(t, s.dataDir, "triage-restart.log", s.env)
}

func (s *triageServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

func (s *triageServer) baseURL() string {
	return fmt.Sprintf("http://%s", s.address)
}

func (s *triageServer) logs() string {
	data, err := os.ReadFile(s.logFile.Name())
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *triageServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/api/v1/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout after %v", timeout)
}

// webhook posts a delivery to /api/v1/webhooks/{kind}.
func (s *triageServer) webhook(t *testing.T, kind, body string) (int, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, s.baseURL()+"/api/v1/webhooks/"+kind, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", e2eWebhookSecret)
	return s.send(t, req)
}

// review issues an authenticated review request as actor.
func (s *triageServer) review(t *testing.T, method, path, body, actor string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, s.baseURL()+path, rd)
	req.Header.Set("Authorization", "Bearer "+e2eAPIKey)
	req.Header.Set("X-Actor-ID", actor)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req)
}

func (s *triageServer) send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func mustDecode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

// --- Wire shapes ---

type webhookResponse struct {
	Success         bool     `json:"success"`
	Duplicate       bool     `json:"duplicate"`
	RecordID        string   `json:"recordId"`
	TaskSuggestions int      `json:"taskSuggestions"`
	SuggestionIDs   []string `json:"suggestionIds"`
}

type suggestion struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Status            string `json:"status"`
	SuggestedAssignee string `json:"suggested_assignee"`
	PatternID         string `json:"pattern_id"`
}

type pendingList struct {
	Suggestions []suggestion     `json:"suggestions"`
	Counts      map[string]int64 `json:"counts"`
}

type approveResult struct {
	Task struct {
		ID         string `json:"id"`
		AssigneeID string `json:"assignee_id"`
	} `json:"task"`
	WasModified    bool   `json:"was_modified"`
	CorrectionType string `json:"correction_type"`
	FeedbackID     string `json:"feedback_id"`
}

type feedback struct {
	ID             string `json:"id"`
	UserAction     string `json:"user_action"`
	CorrectionType string `json:"correction_type"`
	ActorID        string `json:"actor_id"`
}

type pattern struct {
	ID                string  `json:"id"`
	Category          string  `json:"category"`
	SuggestedAssignee string  `json:"suggested_assignee"`
	ConfidenceScore   float64 `json:"confidence_score"`
	Active            bool    `json:"active"`
}
