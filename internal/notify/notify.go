// Package notify sends job completion notifications. Delivery is best
// effort: a Notifier returns a Result describing what happened and
// callers only log it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/pkg/model"
)

// Event describes a finished job.
type Event struct {
	JobID          string          `json:"job_id"`
	Device         string          `json:"device"`
	Status         model.JobStatus `json:"status"`
	Submitter      string          `json:"submitter"`
	HealthCheck    bool            `json:"health_check"`
	ResultsLink    string          `json:"results_link,omitempty"`
	FailureComment string          `json:"failure_comment,omitempty"`
	EndTime        time.Time       `json:"end_time"`
}

// NewEvent builds the Event for a finished job.
func NewEvent(j *model.TestJob, device string) Event {
	ev := Event{
		JobID:          j.ID,
		Device:         device,
		Status:         j.Status,
		Submitter:      j.Submitter,
		HealthCheck:    j.HealthCheck,
		ResultsLink:    j.ResultsLink,
		FailureComment: j.FailureComment,
	}
	if j.EndTime != nil {
		ev.EndTime = *j.EndTime
	}
	return ev
}

// Result is the outcome of one notification attempt.
type Result struct {
	Channel   string
	Delivered bool
	Err       error
	Duration  time.Duration
}

// LogAttrs returns the result as slog attributes.
func (r Result) LogAttrs() []any {
	attrs := []any{"channel", r.Channel, "delivered", r.Delivered, "duration", r.Duration}
	if r.Err != nil {
		attrs = append(attrs, "error", r.Err)
	}
	return attrs
}

// Notifier delivers completion events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) Result
}

// New returns a WebhookNotifier when cfg has a webhook URL, otherwise a
// LogNotifier.
func New(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg.WebhookURL == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(cfg, logger)
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) Result {
	n.logger.Info("job finished", "job_id", ev.JobID, "device", ev.Device, "status", ev.Status,
		"submitter", ev.Submitter, "health_check", ev.HealthCheck)
	return Result{Channel: "log", Delivered: true}
}

// WebhookNotifier POSTs events as JSON, retrying transient failures and
// limiting the overall send rate.
type WebhookNotifier struct {
	url     string
	client  *retryablehttp.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

func NewWebhookNotifier(cfg config.NotifyConfig, logger *slog.Logger) *WebhookNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &WebhookNotifier{
		url:     cfg.WebhookURL,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "notify"),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) Result {
	start := time.Now()
	res := Result{Channel: "webhook"}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	res.Err = n.send(ctx, ev)
	res.Delivered = res.Err == nil
	res.Duration = time.Since(start)
	return res
}

func (n *WebhookNotifier) send(ctx context.Context, ev Event) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	n.logger.Debug("posting notification", "job_id", ev.JobID, "url", n.url)
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("webhook returned " + resp.Status)
	}
	return nil
}
