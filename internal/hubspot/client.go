package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ContactClient is the remote surface the syncer needs for contact reads and
// writes. GetContactByEmail returns (nil, nil) when no contact exists.
type ContactClient interface {
	ListProperties(ctx context.Context, apiKey string) ([]PropertyDefinition, error)
	GetContactByEmail(ctx context.Context, apiKey, email string) (*Contact, error)
	CreateContact(ctx context.Context, apiKey string, properties []Property) (int64, error)
	UpdateContact(ctx context.Context, apiKey string, vid int64, properties []Property) error
	UpsertContact(ctx context.Context, apiKey, email string, properties []Property) error
}

type EventClient interface {
	SendEvent(ctx context.Context, params url.Values) error
}

type ClientOptions struct {
	TrackBaseURL   string
	ContactBaseURL string
	HTTPClient     *http.Client
	UserAgent      string
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

type HTTPClient struct {
	trackBaseURL   string
	contactBaseURL string
	httpClient     *http.Client
	userAgent      string
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
}

func NewHTTPClient(opts ClientOptions) *HTTPClient {
	trackBaseURL := strings.TrimRight(strings.TrimSpace(opts.TrackBaseURL), "/")
	if trackBaseURL == "" {
		trackBaseURL = "https://track.hubspot.com/v1"
	}
	contactBaseURL := strings.TrimRight(strings.TrimSpace(opts.ContactBaseURL), "/")
	if contactBaseURL == "" {
		contactBaseURL = "https://api.hubapi.com/contacts/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		trackBaseURL:   trackBaseURL,
		contactBaseURL: contactBaseURL,
		httpClient:     httpClient,
		userAgent:      strings.TrimSpace(opts.UserAgent),
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
	}
}

func (c *HTTPClient) SendEvent(ctx context.Context, params url.Values) error {
	return c.doJSON(ctx, http.MethodGet, c.trackBaseURL+"/event?"+params.Encode(), nil, nil)
}

func (c *HTTPClient) ListProperties(ctx context.Context, apiKey string) ([]PropertyDefinition, error) {
	var wire []wireProperty
	requestURL := c.contactBaseURL + "/properties?" + keyQuery(apiKey)
	if err := c.doJSON(ctx, http.MethodGet, requestURL, nil, &wire); err != nil {
		return nil, err
	}
	definitions := make([]PropertyDefinition, 0, len(wire))
	for _, property := range wire {
		if property.ReadOnlyValue {
			continue
		}
		definitions = append(definitions, PropertyDefinition{
			Name:    property.Name,
			Type:    parsePropertyType(property.Type),
			Mutable: true,
		})
	}
	return definitions, nil
}

func (c *HTTPClient) GetContactByEmail(ctx context.Context, apiKey, email string) (*Contact, error) {
	requestURL := fmt.Sprintf("%s/contact/email/%s/profile?%s", c.contactBaseURL, url.PathEscape(email), keyQuery(apiKey))
	var contact Contact
	err := c.doJSON(ctx, http.MethodGet, requestURL, nil, &contact)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

func (c *HTTPClient) CreateContact(ctx context.Context, apiKey string, properties []Property) (int64, error) {
	requestURL := c.contactBaseURL + "/contact?" + keyQuery(apiKey)
	var created struct {
		Vid int64 `json:"vid"`
	}
	err := c.doJSON(ctx, http.MethodPost, requestURL, propertyBody(properties), &created)
	if err != nil {
		return 0, err
	}
	return created.Vid, nil
}

func (c *HTTPClient) UpdateContact(ctx context.Context, apiKey string, vid int64, properties []Property) error {
	requestURL := fmt.Sprintf("%s/contact/vid/%d/profile?%s", c.contactBaseURL, vid, keyQuery(apiKey))
	return c.doJSON(ctx, http.MethodPost, requestURL, propertyBody(properties), nil)
}

func (c *HTTPClient) UpsertContact(ctx context.Context, apiKey, email string, properties []Property) error {
	requestURL := fmt.Sprintf("%s/contact/createOrUpdate/email/%s?%s", c.contactBaseURL, url.PathEscape(email), keyQuery(apiKey))
	return c.doJSON(ctx, http.MethodPost, requestURL, propertyBody(properties), nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestURL string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		if resp.StatusCode == http.StatusConflict {
			vid, parseErr := parseConflictVid(payloadBytes)
			if parseErr != nil {
				return fmt.Errorf("parse conflict body: %w", parseErr)
			}
			return &ConflictError{Vid: vid}
		}

		var errPayload struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = strings.TrimSpace(string(payloadBytes))
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     errPayload.Status,
			Message:    message,
		}
	}
}

// parseConflictVid extracts the existing contact's vid from a 409 response.
// The outer body's message field is itself a JSON document.
func parseConflictVid(body []byte) (int64, error) {
	var outer struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return 0, err
	}
	var inner struct {
		Vid      int64 `json:"vid"`
		Property struct {
			Vid int64 `json:"vid"`
		} `json:"property"`
	}
	if err := json.Unmarshal([]byte(outer.Message), &inner); err != nil {
		return 0, err
	}
	if inner.Property.Vid != 0 {
		return inner.Property.Vid, nil
	}
	if inner.Vid != 0 {
		return inner.Vid, nil
	}
	return 0, fmt.Errorf("conflict body carries no vid")
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func keyQuery(apiKey string) string {
	q := url.Values{}
	q.Set("hapikey", apiKey)
	return q.Encode()
}

func propertyBody(properties []Property) map[string]any {
	return map[string]any{"properties": properties}
}

type wireProperty struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	ReadOnlyValue bool   `json:"readOnlyValue"`
}

func parsePropertyType(wireType string) PropertyType {
	switch strings.ToLower(strings.TrimSpace(wireType)) {
	case "string":
		return TypeString
	case "number":
		return TypeNumber
	case "date", "datetime":
		return TypeDate
	case "bool", "boolean":
		return TypeBool
	default:
		return TypeOther
	}
}
