package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"igcollector/pkg/config"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
	"igcollector/pkg/ratelimit"
	"igcollector/pkg/retry"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_platform_requests_total",
		Help: "Platform requests by endpoint and HTTP status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igcollector_platform_request_duration_seconds",
		Help:    "Platform request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// PlatformClient is one authenticated conversation with the platform
type PlatformClient interface {
	Login(ctx context.Context, username, password string) error
	ImportSettings(blob []byte) error
	ExportSettings() ([]byte, error)
	ResetSettings(keepDevice bool)
	ProbeLiveness(ctx context.Context) error
	FetchPage(ctx context.Context, target models.Target, cursor string) (models.Page, error)
	ResolveChallenge(ctx context.Context) error
}

// Factory creates a brand-new client. Clients are never shared between
// leases.
type Factory func() (PlatformClient, error)

// NewFactory returns a factory building clients from the platform, fetch and
// rate limit settings. Each client gets its own pacing bucket.
func NewFactory(cfg *config.Config, log logger.Logger) Factory {
	return func() (PlatformClient, error) {
		return NewClient(cfg.Platform, ratelimit.FromConfig(cfg.RateLimit), log,
			WithPageSize(cfg.Fetch.PageSize))
	}
}

// Client represents an Instagram private API client
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	locale     string
	country    string
	pageSize   int
	limiter    ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger

	mu            sync.Mutex
	settings      Settings
	challengePath string
	userIDs       map[string]string
}

// Option configures a Client
type Option func(*Client)

// WithPageSize sets how many items a feed page requests
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry replaces the retry policy for transient transport failures
func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a new client with a fresh device
func NewClient(cfg config.PlatformConfig, limiter ratelimit.Limiter, log logger.Logger, opts ...Option) (*Client, error) {
	// Use default logger if none provided
	if log == nil {
		log = logger.GetLogger()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeInvalidInput, "invalid proxy URL", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://i.instagram.com"
	}

	rc := retry.DefaultConfig()
	rc.Logger = log

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		headers: map[string]string{
			"User-Agent":                  cfg.UserAgent,
			"Accept":                      "*/*",
			"Accept-Language":             strings.ReplaceAll(cfg.Locale, "_", "-") + ", en-US",
			"X-IG-App-Locale":             cfg.Locale,
			"X-IG-Device-Locale":          cfg.Locale,
			"X-IG-Connection-Type":        "WIFI",
			"X-IG-Capabilities":           "3brTvx0=",
			"X-IG-App-ID":                 "567067343352427",
			"X-FB-HTTP-Engine":            "Liger",
			"X-Bloks-Is-Layout-RTL":       "false",
			"X-IG-Bandwidth-Speed-KBPS":   "-1.000",
			"X-IG-Bandwidth-TotalBytes-B": "0",
		},
		baseURL:  baseURL,
		locale:   cfg.Locale,
		country:  cfg.Country,
		pageSize: DefaultPageSize,
		limiter:  limiter,
		retry:    rc,
		logger:   log.WithField("component", "platform"),
		userIDs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.settings = c.freshSettings(newDeviceIDs())
	return c, nil
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// Login authenticates with username and password and keeps the issued
// authorization in the settings
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.mu.Lock()
	ids := c.settings.UUIDs
	c.mu.Unlock()

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", time.Now().Unix(), password))
	form.Set("device_id", ids.AndroidDeviceID)
	form.Set("phone_id", ids.PhoneID)
	form.Set("guid", ids.UUID)
	form.Set("adid", ids.AdvertisingID)
	form.Set("login_attempt_count", "0")

	c.logger.DebugWithFields("logging in", map[string]interface{}{
		"username": username,
	})

	var resp loginResponse
	if err := c.send(ctx, "login", http.MethodPost, c.loginURL(), form, &resp); err != nil {
		return err
	}
	if resp.LoggedInUser.Username == "" {
		return &errs.Error{
			Type:    errs.ErrorTypeUnclassified,
			Message: "login response carried no user",
			Code:    http.StatusOK,
		}
	}

	c.markLoggedIn(AuthorizationData{DSUserID: resp.LoggedInUser.PK.String()})
	c.logger.InfoWithFields("logged in", map[string]interface{}{
		"username": username,
	})
	return nil
}

// ProbeLiveness requests the timeline to check whether the stored
// authorization is still accepted
func (c *Client) ProbeLiveness(ctx context.Context) error {
	c.mu.Lock()
	loggedIn := c.settings.loggedIn()
	c.mu.Unlock()

	if !loggedIn {
		return errs.New(errs.ErrorTypeStaleSession, "no stored authorization")
	}

	var resp apiStatus
	return c.send(ctx, "timeline", http.MethodGet, c.timelineURL(), nil, &resp)
}

// FetchPage fetches one page of the target's feed starting at cursor. An
// empty cursor starts from the newest item.
func (c *Client) FetchPage(ctx context.Context, target models.Target, cursor string) (models.Page, error) {
	var feedURL, endpoint string
	switch target.Kind {
	case models.TargetProfile:
		userID, err := c.userID(ctx, target.Name)
		if err != nil {
			return models.Page{}, err
		}
		feedURL, endpoint = c.userFeedURL(userID, cursor), "user_feed"
	case models.TargetHashtag:
		feedURL, endpoint = c.tagFeedURL(target.Name, cursor), "tag_feed"
	default:
		return models.Page{}, errs.New(errs.ErrorTypeInvalidInput, fmt.Sprintf("unknown target kind %q", target.Kind))
	}

	c.logger.DebugWithFields("fetching page", map[string]interface{}{
		"target": target.Key(),
		"cursor": cursor,
	})

	var resp FeedResponse
	if err := c.send(ctx, endpoint, http.MethodGet, feedURL, nil, &resp); err != nil {
		return models.Page{}, err
	}
	return resp.toPage(), nil
}

// userID resolves a username to its user id, caching the answer for the
// lifetime of the client
func (c *Client) userID(ctx context.Context, username string) (string, error) {
	c.mu.Lock()
	id, ok := c.userIDs[username]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var resp ProfileResponse
	if err := c.send(ctx, "profile", http.MethodGet, c.profileURL(username), nil, &resp); err != nil {
		return "", err
	}
	if resp.Data.User.ID == "" {
		return "", errs.New(errs.ErrorTypeNotFound, fmt.Sprintf("profile %s not found", username))
	}

	c.mu.Lock()
	c.userIDs[username] = resp.Data.User.ID
	c.mu.Unlock()
	return resp.Data.User.ID, nil
}

// challengeState is the step a checkpoint is in
type challengeState struct {
	apiStatus
	StepName string `json:"step_name"`
	Action   string `json:"action"`
}

// ResolveChallenge tries to pass the last challenge without user input by
// confirming the login. It fails with ChallengeRequired when the
// checkpoint asks for anything more.
func (c *Client) ResolveChallenge(ctx context.Context) error {
	c.mu.Lock()
	path := c.challengePath
	c.mu.Unlock()

	if path == "" {
		return errs.New(errs.ErrorTypeChallengeRequired, "no pending challenge to resolve")
	}

	var state challengeState
	if err := c.send(ctx, "challenge", http.MethodGet, c.challengeURL(path), nil, &state); err != nil {
		return err
	}
	if state.Action == "close" {
		return nil
	}

	form := url.Values{}
	form.Set("choice", "0")
	if err := c.send(ctx, "challenge", http.MethodPost, c.challengeURL(path), form, &state); err != nil {
		return err
	}
	if state.Action == "close" {
		c.logger.Info("challenge resolved")
		return nil
	}
	return errs.New(errs.ErrorTypeChallengeRequired,
		fmt.Sprintf("challenge step %q needs manual resolution", state.StepName))
}

// send performs a request with pacing and local retries of transient
// transport failures, and decodes the JSON response into out
func (c *Client) send(ctx context.Context, endpoint, method, rawURL string, form url.Values, out interface{}) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return c.sendOnce(ctx, endpoint, method, rawURL, form, out)
	}, c.retry)
}

func (c *Client) sendOnce(ctx context.Context, endpoint, method, rawURL string, form url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.ErrorTypeCancelled, "request cancelled while paced", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeInternal, "failed to create request", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}

	resp, err := c.doRequest(req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.absorb(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeUnclassified,
			Message: "failed to read response body",
			Err:     err,
		}
	}

	if err := c.checkResponse(resp, data); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		// Create a preview of the body for debugging
		bodyPreview := string(data)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"endpoint":     endpoint,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return &errs.Error{
			Type:    errs.ErrorTypeUnclassified,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}
	return nil
}

// doRequest performs an HTTP request with the configured headers and the
// session's device identifiers, cookies and authorization
func (c *Client) doRequest(req *http.Request, endpoint string) (*http.Response, error) {
	c.mu.Lock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	ids := c.settings.UUIDs
	req.Header.Set("X-IG-Device-ID", ids.UUID)
	req.Header.Set("X-IG-Android-ID", ids.AndroidDeviceID)
	req.Header.Set("X-Pigeon-Session-Id", ids.ClientSessionID)
	if auth := c.settings.AuthorizationData.Authorization; auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if uid := c.settings.AuthorizationData.DSUserID; uid != "" {
		req.Header.Set("IG-U-DS-User-ID", uid)
	}
	for name, value := range c.settings.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errs.Wrap(errs.ErrorTypeCancelled, "request cancelled", ctxErr)
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"endpoint": endpoint,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeUnclassified,
			Message: fmt.Sprintf("network error: %v", err),
			Code:    0,
			Err:     err,
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	logger.LogRequest(c.logger, req.Method, req.URL.Path, resp.StatusCode, float64(duration.Microseconds())/1000)
	return resp, nil
}

// absorb keeps cookies and authorization headers the platform hands out
func (c *Client) absorb(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cookie := range resp.Cookies() {
		if cookie.Value == "" || cookie.MaxAge < 0 {
			delete(c.settings.Cookies, cookie.Name)
			continue
		}
		c.settings.Cookies[cookie.Name] = cookie.Value
	}
	if auth := resp.Header.Get("ig-set-authorization"); auth != "" && !strings.HasSuffix(auth, ":") {
		c.settings.AuthorizationData.Authorization = auth
	}
	if uid := resp.Header.Get("ig-set-ig-u-ds-user-id"); uid != "" {
		c.settings.AuthorizationData.DSUserID = uid
	}
}

// checkResponse maps a failed response to a typed platform failure
func (c *Client) checkResponse(resp *http.Response, body []byte) error {
	var st apiStatus
	_ = json.Unmarshal(body, &st)

	if resp.StatusCode == http.StatusOK && st.Status != "fail" {
		return nil
	}

	failure := c.classify(resp.StatusCode, st)
	c.logger.WarnWithFields("platform rejected request", map[string]interface{}{
		"status":        resp.StatusCode,
		"path":          resp.Request.URL.Path,
		"failure_class": string(failure.Type),
		"message":       failure.Message,
	})
	return failure
}

// classify maps a failed response to a failure class. The order matters: a
// challenge may come with a login_required message, and feedback_required
// responses carry their explanation in feedback_message.
func (c *Client) classify(code int, st apiStatus) *errs.Error {
	message := st.Message
	lower := strings.ToLower(message)

	switch {
	case message == "challenge_required" || st.ErrorType == "challenge_required" || st.Challenge != nil:
		if st.Challenge != nil && st.Challenge.APIPath != "" {
			c.mu.Lock()
			c.challengePath = st.Challenge.APIPath
			c.mu.Unlock()
		}
		return &errs.Error{Type: errs.ErrorTypeChallengeRequired, Message: "challenge required", Code: code}

	case message == "login_required" || message == "user_has_logged_out" ||
		st.ErrorType == "login_required" || code == http.StatusUnauthorized:
		return &errs.Error{Type: errs.ErrorTypeStaleSession, Message: "login required", Code: code}

	case message == "feedback_required" || st.FeedbackMessage != "" || st.Spam:
		feedback := st.FeedbackMessage
		if feedback == "" {
			feedback = message
		}
		return &errs.Error{Type: errs.ErrorTypeSoftRestriction, Message: feedback, Code: code}

	case strings.Contains(lower, "please wait a few minutes"):
		return &errs.Error{Type: errs.ErrorTypeCooldown, Message: message, Code: code}

	case code == http.StatusNotFound:
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found", Code: code}

	default:
		if message == "" {
			message = fmt.Sprintf("unexpected status code: %d", code)
		}
		return &errs.Error{Type: errs.ErrorTypeUnclassified, Message: message, Code: code}
	}
}
