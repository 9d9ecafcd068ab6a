package out

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"kimaid/internal/modules/timesheet/domain"
)

const (
	kimaiDayLayout   = "02.01.2006"
	maxResponseBytes = 1 << 20
)

var (
	ErrUnexpectedStatus = errors.New("unexpected kimai response status")
	ErrUserIDMissing    = errors.New("kimai login response carries no user id")
)

// The login page embeds the numeric user id in a script assignment.
var userIDPattern = regexp.MustCompile(`userID\s*=\s*["']?(\d{1,20})`)

type KimaiConfig struct {
	BaseURL       string
	LoginPath     string
	ProcessorPath string
	ProjectID     string
	ActivityID    string
	Timeout       time.Duration
}

// KimaiClient drives the Kimai web forms. The HTTP session lives in the
// cookie jar; the returned token is the numeric user id.
type KimaiClient struct {
	cfg       KimaiConfig
	loginURL  string
	submitURL string

	mu     sync.Mutex
	client *http.Client
}

func NewKimaiClient(cfg KimaiConfig) (*KimaiClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse kimai url: %w", err)
	}
	c := &KimaiClient{
		cfg:       cfg,
		loginURL:  base + cfg.LoginPath,
		submitURL: base + cfg.ProcessorPath,
	}
	client, err := c.newHTTPClient()
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

func (c *KimaiClient) newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &http.Client{Jar: jar, Timeout: c.cfg.Timeout}, nil
}

func (c *KimaiClient) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *KimaiClient) Authenticate(ctx context.Context, username, password string) (string, error) {
	body, err := c.postForm(ctx, c.loginURL, url.Values{
		"name":     {username},
		"password": {password},
	})
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	match := userIDPattern.FindSubmatch(body)
	if match == nil {
		return "", ErrUserIDMissing
	}
	return string(match[1]), nil
}

func (c *KimaiClient) SubmitEntry(ctx context.Context, token string, entry domain.Entry) error {
	if token == "" {
		return domain.ErrNotAuthenticated
	}
	day := entry.Day.Format(kimaiDayLayout)
	form := url.Values{
		"axAction":    {"add_edit_timeSheetEntry"},
		"projectID":   {c.cfg.ProjectID},
		"activityID":  {c.cfg.ActivityID},
		"description": {""},
		"start_day":   {day},
		"end_day":     {day},
		"start_time":  {entry.Start.Clock()},
		"end_time":    {entry.End().Clock()},
		"duration":    {entry.Duration.Clock()},
		"comment":     {""},
		"commentType": {"0"},
		"userID[]":    {token},
		"statusID":    {"1"},
		"billable":    {"0"},
	}
	if _, err := c.postForm(ctx, c.submitURL, form); err != nil {
		return fmt.Errorf("submit entry %s: %w", day, err)
	}
	return nil
}

// Logout drops the HTTP session by discarding the cookie jar.
func (c *KimaiClient) Logout(_ context.Context, _ string) error {
	client, err := c.newHTTPClient()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *KimaiClient) postForm(ctx context.Context, target string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return body, nil
}
