package chain

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"tapcore/internal/errors"
)

// HTTPClient talks to a ledger network gateway over HTTP JSON. A request that
// runs out of its timeout budget maps to ErrNetworkTimeout: the outcome is
// unknown and the caller must reconcile, never assume failure.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     *logrus.Logger
}

// NewHTTPClient creates a ledger gateway client with the given submission
// timeout budget.
func NewHTTPClient(baseURL string, timeout time.Duration, log *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	Ref      string `json:"ref"`
	Reason   string `json:"reason,omitempty"`
}

type finalityResponse struct {
	Finality string `json:"finality"`
}

// SubmitSignedTransfer posts the signed transfer to the gateway.
func (c *HTTPClient) SubmitSignedTransfer(ctx context.Context, raw []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", errors.ErrNetworkTimeout
		}
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read submit response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Warn("ledger gateway rejected transfer")
		return "", errors.ErrNetworkRejected
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit transfer: unexpected status %d", resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if !parsed.Accepted {
		return "", errors.ErrNetworkRejected
	}
	return parsed.Ref, nil
}

// GetTransactionFinality queries the gateway for the transfer's finality.
func (c *HTTPClient) GetTransactionFinality(ctx context.Context, ref string) (Finality, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transfers/"+ref, nil)
	if err != nil {
		return "", fmt.Errorf("build finality request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", errors.ErrNetworkTimeout
		}
		return "", fmt.Errorf("query finality: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return FinalityNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query finality: unexpected status %d", resp.StatusCode)
	}

	var parsed finalityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode finality response: %w", err)
	}
	switch Finality(parsed.Finality) {
	case FinalityPending, FinalityConfirmed, FinalityRejected, FinalityNotFound:
		return Finality(parsed.Finality), nil
	default:
		return "", fmt.Errorf("unknown finality %q", parsed.Finality)
	}
}

func isTimeout(err error) bool {
	if goerrors.Is(err, context.DeadlineExceeded) || goerrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return goerrors.As(err, &netErr) && netErr.Timeout()
}
