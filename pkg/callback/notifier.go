// Package callback reports the outcome of a job to the caller.
//
// Every job ends with exactly one Report POSTed to
// <scheme>://<host>:<port><path>. Delivery is best effort: failed attempts
// are retried with exponential backoff and a notification that cannot be
// delivered does not change the job outcome.
package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/dataprep/pkg/config"
	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/metrics"
	"github.com/ajitpratap0/dataprep/pkg/observability"
	"github.com/ajitpratap0/dataprep/pkg/snapshot"
)

// Job statuses
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Report is the callback body.
type Report struct {
	Status           string                 `json:"status"`
	SnapshotID       string                 `json:"snapshotId,omitempty"`
	Location         string                 `json:"location,omitempty"`
	RowCount         int                    `json:"rowCount,omitempty"`
	Columns          []dataset.ColumnSchema `json:"columns,omitempty"`
	CoercionFailures int                    `json:"coercionFailures,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Message          string                 `json:"message,omitempty"`
	FinishedAt       time.Time              `json:"finishedAt"`
}

// Success reports a written snapshot.
func Success(res *snapshot.Result, coercionFailures int) Report {
	return Report{
		Status:           StatusSuccess,
		SnapshotID:       res.SnapshotID,
		Location:         res.Location,
		RowCount:         res.RowCount,
		Columns:          res.Columns,
		CoercionFailures: coercionFailures,
		FinishedAt:       time.Now().UTC(),
	}
}

// Failure reports a failed job. snapshotID may be empty when the job failed
// before an id was assigned.
func Failure(snapshotID string, err error) Report {
	return Report{
		Status:     StatusFailure,
		SnapshotID: snapshotID,
		Error:      errors.TypeOf(err).Kind(),
		Message:    err.Error(),
		FinishedAt: time.Now().UTC(),
	}
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("callback returned HTTP %d", e.code)
	}
	return fmt.Sprintf("callback returned HTTP %d: %s", e.code, e.body)
}

// retryable retries transport failures and server errors.
func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return err != context.Canceled && err != context.DeadlineExceeded
}

// Notifier delivers reports.
type Notifier struct {
	settings config.CallbackSettings
	client   *http.Client
	// tokens and authClient are set when settings carry an oauth2 grant
	tokens     oauth2.TokenSource
	authClient *http.Client
	logger     *zap.Logger
}

// NewNotifier creates a notifier for the configured endpoint. An https
// endpoint is reached over HTTP/2 when the server offers it. With an oauth2
// grant in settings, reports whose payload has no token are sent with an
// access token refreshed from the grant.
func NewNotifier(settings config.CallbackSettings, logger *zap.Logger) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if settings.Scheme == "https" {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to configure callback transport")
		}
	}
	client := &http.Client{Transport: transport, Timeout: settings.RequestTimeout}

	n := &Notifier{
		settings: settings,
		logger:   logger.With(zap.String("component", "callback_notifier")),
	}
	if o := settings.OAuth; o.Enabled() {
		grant := &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.TokenURL},
			Scopes:       o.Scopes,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		n.tokens = grant.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: o.RefreshToken})
	}
	return n.WithClient(client), nil
}

// WithClient replaces the HTTP client.
func (n *Notifier) WithClient(client *http.Client) *Notifier {
	n.client = client
	if n.tokens != nil {
		n.authClient = &http.Client{
			Transport: &oauth2.Transport{Source: n.tokens, Base: client.Transport},
			Timeout:   client.Timeout,
		}
	}
	return n
}

// URL returns the endpoint a report for snapshotID is sent to on port.
func (n *Notifier) URL(port int, snapshotID string) string {
	path := strings.ReplaceAll(n.settings.Path, "{snapshotId}", url.PathEscape(snapshotID))
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return n.settings.Scheme + "://" + net.JoinHostPort(n.settings.Host, strconv.Itoa(port)) + path
}

// Notify delivers report as described by info. Port 0 disables delivery.
// A report that cannot be delivered returns a CallbackDeliveryError.
func (n *Notifier) Notify(ctx context.Context, info config.CallbackInfo, report Report) (err error) {
	logger := n.logger.With(zap.String("status", report.Status), zap.String("snapshot_id", report.SnapshotID))
	if info.Port == 0 {
		logger.Info("callback disabled, report not sent")
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "callback.deliver", attribute.String("status", report.Status))
	defer func() { span.End(err) }()
	timer := metrics.NewTimer("callback")
	defer timer.Stop()

	body, err := json.Marshal(report)
	if err != nil {
		return errors.NewCallbackDeliveryError(0, err)
	}
	endpoint := n.URL(info.Port, report.SnapshotID)
	auth := strings.TrimSpace(info.OauthToken)
	client := n.client
	if auth == "" && n.authClient != nil {
		client = n.authClient
	}

	policy := NewRetryPolicy(n.settings.MaxAttempts, n.settings.InitialDelay, n.settings.MaxDelay)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.CallbackAttempts.WithLabelValues("retry").Inc()
		logger.Warn("callback attempt failed",
			zap.String("url", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
	}

	attempts, err := policy.Execute(ctx, func(ctx context.Context) error {
		return post(ctx, client, endpoint, auth, body)
	}, retryable)
	span.SetAttribute("attempts", attempts)
	if err != nil {
		metrics.CallbackAttempts.WithLabelValues("failed").Inc()
		logger.Error("giving up on callback",
			zap.String("url", endpoint),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return errors.NewCallbackDeliveryError(attempts, err)
	}

	metrics.CallbackAttempts.WithLabelValues("delivered").Inc()
	logger.Info("callback delivered", zap.String("url", endpoint), zap.Int("attempts", attempts))
	return nil
}

func post(ctx context.Context, client *http.Client, endpoint, auth string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
}
