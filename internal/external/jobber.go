package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// TokenStore persists the CRM OAuth token pair across process restarts.
// Backed by Postgres in production; tests use an in-memory implementation.
type TokenStore interface {
	Load(ctx context.Context) (TokenPair, error)
	Save(ctx context.Context, pair TokenPair) error
}

// TokenPair is an access/refresh token set with its expiry.
type TokenPair struct {
	AccessToken  types.SecretString
	RefreshToken types.SecretString
	ExpiresAt    time.Time
}

// Expired reports whether the access token needs a refresh, with a small
// margin so a token never expires mid-request.
func (t TokenPair) Expired(now time.Time) bool {
	return !now.Add(30 * time.Second).Before(t.ExpiresAt)
}

// JobberClient talks to the Jobber CRM GraphQL API: quote lookups and
// calendar entry writes. The scheduling core treats it as a black box
// returning success or failure. It implements types.CalendarSync.
type JobberClient struct {
	base     *BaseClient
	apiBase  string
	clientID string
	secret   types.SecretString
	tokens   TokenStore
	clock    types.Clock
	logger   *slog.Logger

	mu     sync.Mutex // serializes token refresh
	cached TokenPair
}

// NewJobberClient creates a CRM client from the CRM config.
func NewJobberClient(httpClient *http.Client, cfg config.CRMConfig, tokens TokenStore, clock types.Clock, logger *slog.Logger) *JobberClient {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobberClient{
		base:     NewBaseClient(httpClient, "jobber", DefaultRetryPolicy(), types.ErrCodeUpstreamCRM),
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		tokens:   tokens,
		clock:    clock,
		logger:   logger,
	}
}

// accessToken returns a valid access token, refreshing through the OAuth
// token endpoint when the cached pair has expired.
func (c *JobberClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.cached.AccessToken != "" && !c.cached.Expired(now) {
		return c.cached.AccessToken.Unmask(), nil
	}

	pair, err := c.tokens.Load(ctx)
	if err != nil {
		return "", err
	}
	if !pair.Expired(now) {
		c.cached = pair
		return pair.AccessToken.Unmask(), nil
	}

	refreshed, err := c.refresh(ctx, pair)
	if err != nil {
		return "", err
	}
	if err := c.tokens.Save(ctx, refreshed); err != nil {
		// The refreshed token is still usable this request; persistence
		// failure is logged and retried on the next refresh.
		c.logger.Error("failed to persist refreshed CRM token", "error", err)
	}
	c.cached = refreshed
	return refreshed.AccessToken.Unmask(), nil
}

// refresh exchanges the refresh token for a new access token.
func (c *JobberClient) refresh(ctx context.Context, pair TokenPair) (TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.secret.Unmask())
	form.Set("refresh_token", pair.RefreshToken.Unmask())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		return TokenPair{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return TokenPair{}, types.NewAppError(types.ErrCodeAuthTokenExpired, "CRM refresh token rejected", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, types.NewAppError(types.ErrCodeUpstreamCRM, fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return TokenPair{}, types.NewAppError(types.ErrCodeUpstreamCRM, "failed to decode token response", err)
	}

	refreshed := TokenPair{
		AccessToken:  types.SecretString(body.AccessToken),
		RefreshToken: types.SecretString(body.RefreshToken),
		ExpiresAt:    c.clock.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = pair.RefreshToken
	}
	return refreshed, nil
}

// graphql executes one GraphQL request and decodes the data envelope into out.
func (c *JobberClient) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal GraphQL request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build GraphQL request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeUpstreamCRM, fmt.Sprintf("CRM returned %d", resp.StatusCode), nil)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCRM, "failed to decode CRM response", err)
	}
	if len(envelope.Errors) > 0 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamCRM,
			"CRM rejected the request",
			nil,
			map[string]any{"message": envelope.Errors[0].Message},
		)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return types.NewAppError(types.ErrCodeUpstreamCRM, "failed to decode CRM data", err)
		}
	}
	return nil
}

const getQuoteQuery = `
query GetQuote($id: ID!) {
  quote(id: $id) {
    id
    quoteStatus
    amounts { totalPrice }
    client { id name properties { city street } }
  }
}`

// mapQuoteStatus translates the CRM's quote status enum into the domain
// lifecycle. CONVERTED counts as approved since conversion implies approval.
func mapQuoteStatus(s string) types.QuoteStatus {
	switch s {
	case "APPROVED", "CONVERTED":
		return types.QuoteApproved
	case "CHANGES_REQUESTED", "ARCHIVED":
		return types.QuoteRejected
	default:
		return types.QuotePending
	}
}

// GetQuote fetches quote details for an approved-quote event.
func (c *JobberClient) GetQuote(ctx context.Context, quoteID string) (types.Quote, error) {
	var data struct {
		Quote *struct {
			ID          string `json:"id"`
			QuoteStatus string `json:"quoteStatus"`
			Amounts     struct {
				TotalPrice float64 `json:"totalPrice"`
			} `json:"amounts"`
			Client struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				Properties []struct {
					City   string `json:"city"`
					Street string `json:"street"`
				} `json:"properties"`
			} `json:"client"`
		} `json:"quote"`
	}
	if err := c.graphql(ctx, getQuoteQuery, map[string]any{"id": quoteID}, &data); err != nil {
		return types.Quote{}, err
	}
	if data.Quote == nil {
		return types.Quote{}, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundQuote,
			"quote not found in CRM",
			nil,
			map[string]any{"quote_id": quoteID},
		)
	}

	q := types.Quote{
		ID:         data.Quote.ID,
		Amount:     data.Quote.Amounts.TotalPrice,
		Status:     mapQuoteStatus(data.Quote.QuoteStatus),
		ClientID:   data.Quote.Client.ID,
		ClientName: data.Quote.Client.Name,
	}
	if len(data.Quote.Client.Properties) > 0 {
		q.City = data.Quote.Client.Properties[0].City
		q.Address = data.Quote.Client.Properties[0].Street
	}
	return q, nil
}

const createVisitMutation = `
mutation CreateVisit($jobId: ID!, $startAt: ISO8601DateTime!, $endAt: ISO8601DateTime!) {
  visitCreate(jobId: $jobId, input: {startAt: $startAt, endAt: $endAt}) {
    visit { id }
    userErrors { message }
  }
}`

const moveVisitMutation = `
mutation MoveVisit($id: ID!, $startAt: ISO8601DateTime!, $endAt: ISO8601DateTime!) {
  visitEdit(id: $id, input: {startAt: $startAt, endAt: $endAt}) {
    visit { id }
    userErrors { message }
  }
}`

const cancelVisitMutation = `
mutation CancelVisit($id: ID!) {
  visitDelete(id: $id) {
    userErrors { message }
  }
}`

// PushVisit mirrors a newly booked visit to the CRM calendar.
func (c *JobberClient) PushVisit(ctx context.Context, visit types.Visit) error {
	return c.graphql(ctx, createVisitMutation, map[string]any{
		"jobId":   visit.JobID,
		"startAt": visit.StartAt.Format(time.RFC3339),
		"endAt":   visit.EndAt.Format(time.RFC3339),
	}, nil)
}

// PushMove mirrors a rescheduled visit to the CRM calendar.
func (c *JobberClient) PushMove(ctx context.Context, visitID string, newStart, newEnd time.Time) error {
	return c.graphql(ctx, moveVisitMutation, map[string]any{
		"id":      visitID,
		"startAt": newStart.Format(time.RFC3339),
		"endAt":   newEnd.Format(time.RFC3339),
	}, nil)
}

// PushCancel mirrors a cancellation to the CRM calendar.
func (c *JobberClient) PushCancel(ctx context.Context, visitID string) error {
	return c.graphql(ctx, cancelVisitMutation, map[string]any{"id": visitID}, nil)
}
