// Command smoke drives the summary workflow end to end against a local API
// running in emulator mode. Each worker registers a fresh company and walks
// one summary from DRAFT to POSTED.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchbase.io/internal/identity"
	"matchbase.io/internal/obs"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d: %s", e.status, e.body) }

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newClient(base, subject string, httpClient *http.Client) (*client, error) {
	token, err := identity.EmulatorToken(subject, subject+"@smoke.local", time.Now().Add(time.Hour))
	if err != nil {
		return nil, err
	}
	return &client{base: base, http: httpClient, token: token}, nil
}

// runOnce walks one company through registration, information and the
// summary workflow.
func runOnce(ctx context.Context, admin *client, base string, httpClient *http.Client) error {
	subject := "smoke-" + uuid.NewString()
	owner, err := newClient(base, subject, httpClient)
	if err != nil {
		return err
	}

	var reg struct {
		Company struct {
			ID string `json:"id"`
		} `json:"company"`
	}
	if err := owner.do(ctx, http.MethodPost, "/v1/companies", map[string]any{
		"name":      "Smoke " + subject[len(subject)-8:],
		"email":     subject + "@smoke.local",
		"user_name": "Smoke Owner",
	}, &reg); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	var info struct {
		ID string `json:"id"`
	}
	if err := owner.do(ctx, http.MethodPut, "/v1/companies/"+reg.Company.ID+"/information", map[string]any{
		"type_of_business": "manufacturing",
		"country":          "JP",
		"years":            "10-20",
		"other_details":    "Looking for a successor.",
	}, &info); err != nil {
		return fmt.Errorf("information: %w", err)
	}

	var summary struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := owner.do(ctx, http.MethodPost, "/v1/company-informations/"+info.ID+"/summary", map[string]any{
		"status":           "DRAFT",
		"country":          "JP",
		"title":            "Precision parts maker",
		"type_of_business": "manufacturing",
	}, &summary); err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	if err := admin.do(ctx, http.MethodPatch, "/v1/admin/summaries/"+summary.ID, map[string]any{
		"status":  "REQUEST",
		"content": "Requested by the smoke run.",
	}, nil); err != nil {
		return fmt.Errorf("admin update: %w", err)
	}
	if err := owner.do(ctx, http.MethodPatch, "/v1/summaries/"+summary.ID, map[string]any{
		"status": "SUBMITTED",
	}, nil); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := admin.do(ctx, http.MethodPost, "/v1/admin/summaries/"+summary.ID+"/master", nil, &summary); err != nil {
		return fmt.Errorf("add to master: %w", err)
	}
	if summary.Status != "POSTED" {
		return fmt.Errorf("unexpected final status %q", summary.Status)
	}
	return nil
}

func main() {
	var (
		baseURL      = flag.String("base-url", "http://localhost:8080", "API base URL")
		adminSubject = flag.String("admin-subject", "local-admin", "Subject of a registered admin")
		workers      = flag.Int("workers", 4, "Concurrent worker count")
		duration     = flag.Duration("duration", 30*time.Second, "How long to keep running")
	)
	flag.Parse()

	logger, err := obs.NewLogger("info", "local")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	admin, err := newClient(*baseURL, *adminSubject, httpClient)
	if err != nil {
		logger.Fatal("admin token", zap.Error(err))
	}

	logger.Info("smoke run", zap.String("base", *baseURL), zap.Int("workers", *workers), zap.Duration("duration", *duration))

	var successes, failures, rateLimited int64
	deadline := time.Now().Add(*duration)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for time.Now().Before(deadline) && ctx.Err() == nil {
				err := runOnce(ctx, admin, *baseURL, httpClient)
				if err == nil {
					atomic.AddInt64(&successes, 1)
					continue
				}
				atomic.AddInt64(&failures, 1)
				var se *statusError
				if errors.As(err, &se) && se.status == http.StatusTooManyRequests {
					atomic.AddInt64(&rateLimited, 1)
					time.Sleep(250 * time.Millisecond)
					continue
				}
				logger.Warn("workflow failed", zap.Int("worker", id), zap.Error(err))
				time.Sleep(200 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	logger.Info("smoke complete",
		zap.Int64("success", successes),
		zap.Int64("failed", failures),
		zap.Int64("rate_limited", rateLimited),
	)
	if successes == 0 || failures > rateLimited {
		os.Exit(1)
	}
}
