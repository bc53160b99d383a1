package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/eventbook/project/internal/app/session"
	"github.com/eventbook/project/internal/platform/env"
	"github.com/eventbook/project/internal/platform/kv"
	"github.com/eventbook/project/internal/platform/metrics"
)

type config struct {
	APIBase        string
	Users          int
	StartupWait    time.Duration
	Duration       time.Duration
	ActionInterval time.Duration
	RequestTimeout time.Duration
	MetricsAddr    string
	Password       string
}

type simulatedUser struct {
	Index int
	Email string
	Token string

	mu       sync.Mutex
	eventIDs []string
}

type runner struct {
	cfg       config
	runID     string
	apiClient *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
}

var actionsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "eventbook_loadgen_actions_total",
	Help: "User actions executed by the load generator.",
}, []string{"action", "outcome"})

func init() {
	metrics.Default.MustRegister(actionsTotal)
}

var categories = []string{"Work", "Personal", "Birthday", "Meeting"}

func main() {
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	r := &runner{
		cfg:       cfg,
		runID:     strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		apiClient: &http.Client{Timeout: cfg.RequestTimeout},
	}

	if err := r.waitForAPI(ctx); err != nil {
		log.Fatalf("event-api not ready: %v", err)
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	log.Printf("load generator initialized: users=%d duration=%s interval=%s",
		len(users), cfg.Duration, cfg.ActionInterval)

	var wg sync.WaitGroup
	for idx := range users {
		user := users[idx]
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load run complete: success_requests=%d error_requests=%d",
		r.requestsSuccess.Load(), r.requestsError.Load())
}

func loadConfig() config {
	return config{
		APIBase:        env.String("LOADGEN_API_BASE", "http://event-api:5000"),
		Users:          env.Int("LOADGEN_USERS", 50),
		StartupWait:    env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:       env.Duration("LOADGEN_DURATION", 5*time.Minute),
		ActionInterval: env.Duration("LOADGEN_ACTION_INTERVAL", 2*time.Second),
		RequestTimeout: env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:    env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:       env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}

func (r *runner) waitForAPI(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := r.apiClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(1200 * time.Millisecond)
	}
	return lastErr
}

// setupUsers signs up one account per virtual user through the session
// client, the same path the real app takes.
func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	users := make([]*simulatedUser, 0, r.cfg.Users)
	for i := 0; i < r.cfg.Users; i++ {
		if ctx.Err() != nil {
			break
		}
		email := fmt.Sprintf("loadgen-%s-%d@example.com", r.runID, i)
		client := session.NewClient(r.cfg.APIBase, kv.NewMemory())
		client.HTTPClient = r.apiClient

		sess, err := client.Signup(ctx, session.SignupForm{
			Name:     fmt.Sprintf("Load User %d", i),
			Email:    email,
			Password: r.cfg.Password,
		})
		if err != nil {
			actionsTotal.WithLabelValues("signup", "error").Inc()
			r.requestsError.Add(1)
			log.Printf("signup failed for %s: %v", email, err)
			continue
		}
		actionsTotal.WithLabelValues("signup", "ok").Inc()
		r.requestsSuccess.Add(1)
		users = append(users, &simulatedUser{Index: i, Email: email, Token: sess.Token})
	}
	return users
}

func (r *runner) runUser(ctx context.Context, u *simulatedUser) {
	ticker := time.NewTicker(r.cfg.ActionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, u)
		}
	}
}

func (r *runner) runAction(ctx context.Context, u *simulatedUser) {
	switch rand.Intn(3) {
	case 0:
		r.createEvent(ctx, u)
	case 1:
		r.listEvents(ctx, u)
	default:
		u.mu.Lock()
		hasEvents := len(u.eventIDs) > 0
		u.mu.Unlock()
		if hasEvents {
			r.deleteEvent(ctx, u)
		} else {
			r.createEvent(ctx, u)
		}
	}
}

func (r *runner) createEvent(ctx context.Context, u *simulatedUser) {
	payload, _ := json.Marshal(map[string]any{
		"title":    fmt.Sprintf("Generated event %d", rand.Intn(10000)),
		"date":     time.Now().Add(time.Duration(rand.Intn(72)) * time.Hour).Format(time.RFC3339),
		"category": categories[rand.Intn(len(categories))],
	})
	body, status, err := r.doRequest(ctx, u, http.MethodPost, "/api/v1/events", payload)
	if err != nil || status != http.StatusCreated {
		actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("create", "ok").Inc()

	var created struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(body, &created) == nil && created.ID != "" {
		u.mu.Lock()
		u.eventIDs = append(u.eventIDs, created.ID)
		u.mu.Unlock()
	}
}

func (r *runner) listEvents(ctx context.Context, u *simulatedUser) {
	path := "/api/v1/events"
	if rand.Intn(2) == 0 {
		path += "?category=" + categories[rand.Intn(len(categories))]
	}
	_, status, err := r.doRequest(ctx, u, http.MethodGet, path, nil)
	if err != nil || status != http.StatusOK {
		actionsTotal.WithLabelValues("list", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("list", "ok").Inc()
}

func (r *runner) deleteEvent(ctx context.Context, u *simulatedUser) {
	u.mu.Lock()
	if len(u.eventIDs) == 0 {
		u.mu.Unlock()
		return
	}
	id := u.eventIDs[0]
	u.eventIDs = u.eventIDs[1:]
	u.mu.Unlock()

	_, status, err := r.doRequest(ctx, u, http.MethodDelete, "/api/v1/events/"+id, nil)
	if err != nil || status != http.StatusNoContent {
		actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("delete", "ok").Inc()
}

func (r *runner) doRequest(ctx context.Context, u *simulatedUser, method, path string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, bytes.NewReader(payload))
	if err != nil {
		r.requestsError.Add(1)
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+u.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		r.requestsError.Add(1)
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.requestsError.Add(1)
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		r.requestsError.Add(1)
	} else {
		r.requestsSuccess.Add(1)
	}
	return body, resp.StatusCode, nil
}
