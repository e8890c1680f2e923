package cas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultURLTemplate = "https://api.cas.chat/check?user_id=%d"
	DefaultTimeout     = 5 * time.Second

	verdictCacheSize = 10000
	verdictCacheTTL  = 6 * time.Hour

	ResultFlagged = "flagged"
	ResultClean   = "clean"
	ResultCached  = "cached"
	ResultError   = "error"
)

type (
	Verdict struct {
		Flagged   bool
		Offenses  int
		TimeAdded time.Time
	}

	response struct {
		OK     bool    `json:"ok"`
		Result *result `json:"result"`
	}

	result struct {
		Offenses  int    `json:"offenses"`
		TimeAdded string `json:"time_added"`
	}

	Client struct {
		urlTemplate string
		httpClient  *http.Client
		flagged     *expirable.LRU[int64, Verdict]
		observe     func(result string)
		logger      *log.Entry
	}
)

func NewClient(urlTemplate string, timeout time.Duration) *Client {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		urlTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: timeout},
		flagged:     expirable.NewLRU[int64, Verdict](verdictCacheSize, nil, verdictCacheTTL),
		logger:      log.WithField("object", "CASClient"),
	}
}

// WithObserver reports the result of every lookup, cached ones included.
func (c *Client) WithObserver(fn func(result string)) *Client {
	c.observe = fn
	return c
}

// Check asks the service about a user. Errors are returned as is; callers
// treat them as "not flagged".
func (c *Client) Check(ctx context.Context, userID int64) (v Verdict, err error) {
	if v, ok := c.flagged.Get(userID); ok {
		c.report(ResultCached)
		return v, nil
	}
	defer func() {
		switch {
		case err != nil:
			c.report(ResultError)
		case v.Flagged:
			c.report(ResultFlagged)
		default:
			c.report(ResultClean)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(c.urlTemplate, userID), nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Verdict{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if !body.OK || body.Result == nil {
		return Verdict{}, nil
	}

	v = Verdict{Flagged: true, Offenses: body.Result.Offenses}
	if added, err := time.Parse(time.RFC3339, body.Result.TimeAdded); err == nil {
		v.TimeAdded = added
	}
	c.flagged.Add(userID, v)
	c.logger.WithFields(log.Fields{"user_id": userID, "offenses": v.Offenses}).Debug("user is flagged")
	return v, nil
}

func (c *Client) report(result string) {
	if c.observe != nil {
		c.observe(result)
	}
}
