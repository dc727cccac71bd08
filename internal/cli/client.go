package cli

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

	"agrivest/internal/ledger"
)

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: strings.TrimSpace(adminToken),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the API rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func (c *Client) CreateAccount(ctx context.Context, name, referralCode string) (ledger.Account, error) {
	var out ledger.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts", false, map[string]any{
		"name":          name,
		"referral_code": referralCode,
	}, &out)
	return out, err
}

func (c *Client) Account(ctx context.Context, accountID string) (ledger.Account, error) {
	var out ledger.Account
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), false, nil, &out)
	return out, err
}

func (c *Client) OpenInvestment(ctx context.Context, accountID, packageID, sector string, amountPaise int64) (ledger.Investment, error) {
	var out ledger.Investment
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(accountID)+"/investments", false, map[string]any{
		"package_id": packageID,
		"sector":     sector,
		"amount":     ledger.FormatPaise(amountPaise),
	}, &out)
	return out, err
}

func (c *Client) ListInvestments(ctx context.Context, accountID string) ([]ledger.Investment, error) {
	var out struct {
		Investments []ledger.Investment `json:"investments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/investments", false, nil, &out)
	return out.Investments, err
}

func (c *Client) Transactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, false, nil, &out)
	return out.Transactions, err
}

func (c *Client) RequestWithdrawal(ctx context.Context, accountID string, amountPaise int64) (ledger.Withdrawal, error) {
	var out ledger.Withdrawal
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(accountID)+"/withdrawals", false, map[string]any{
		"amount": ledger.FormatPaise(amountPaise),
	}, &out)
	return out, err
}

func (c *Client) ReferralStats(ctx context.Context, accountID string) (ledger.ReferralStats, error) {
	var out ledger.ReferralStats
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/referrals/stats", false, nil, &out)
	return out, err
}

func (c *Client) Commissions(ctx context.Context, accountID string) ([]ledger.Commission, error) {
	var out struct {
		Commissions []ledger.Commission `json:"commissions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/referrals/commissions", false, nil, &out)
	return out.Commissions, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]ledger.LeaderboardRow, error) {
	path := "/v1/referrals/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Rows []ledger.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, false, nil, &out)
	return out.Rows, err
}

func (c *Client) Packages(ctx context.Context) ([]ledger.Package, error) {
	var out struct {
		Packages []ledger.Package `json:"packages"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/packages", false, nil, &out)
	return out.Packages, err
}

func (c *Client) TopUp(ctx context.Context, accountID string, amountPaise int64, reference string) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/accounts/"+url.PathEscape(accountID)+"/topups", true, map[string]any{
		"amount":    ledger.FormatPaise(amountPaise),
		"reference": reference,
	}, &out)
	return out, err
}

func (c *Client) ListWithdrawals(ctx context.Context, status string) ([]ledger.Withdrawal, error) {
	path := "/v1/admin/withdrawals"
	if s := strings.TrimSpace(status); s != "" {
		path += "?status=" + url.QueryEscape(s)
	}
	var out struct {
		Withdrawals []ledger.Withdrawal `json:"withdrawals"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, true, nil, &out)
	return out.Withdrawals, err
}

// AccountWithdrawals lists one account's withdrawals without admin rights.
func (c *Client) AccountWithdrawals(ctx context.Context, accountID, status string) ([]ledger.Withdrawal, error) {
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/withdrawals"
	if s := strings.TrimSpace(status); s != "" {
		path += "?status=" + url.QueryEscape(s)
	}
	var out struct {
		Withdrawals []ledger.Withdrawal `json:"withdrawals"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, false, nil, &out)
	return out.Withdrawals, err
}

func (c *Client) ApproveWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	var out ledger.Withdrawal
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/withdrawals/"+url.PathEscape(id)+"/approve", true, nil, &out)
	return out, err
}

func (c *Client) RejectWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	var out ledger.Withdrawal
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/withdrawals/"+url.PathEscape(id)+"/reject", true, nil, &out)
	return out, err
}

// RunAccrual triggers a daily accrual pass. An empty asOf means today.
func (c *Client) RunAccrual(ctx context.Context, asOf string) (ledger.AccrualSummary, error) {
	var out ledger.AccrualSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/accrual/run", true, map[string]any{
		"as_of": strings.TrimSpace(asOf),
	}, &out)
	return out, err
}

func (c *Client) CascadeSweep(ctx context.Context, limit int) (ledger.SweepSummary, error) {
	var out ledger.SweepSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/cascade/sweep", true, map[string]any{
		"limit": limit,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, admin bool, in any, out any) error {
	if admin && c.AdminToken == "" {
		return errors.New("admin token required: run `agv login`")
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
