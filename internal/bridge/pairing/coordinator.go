// Package pairing obtains a persistent bridge credential on first run
// by walking the cloud's HTTP pairing-code flow, and resumes straight
// to the cloud session on subsequent runs (spec.md §4.8).
package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nautilink/helm-bridge/internal/bridge/credential"
	"github.com/nautilink/helm-bridge/internal/logging"
)

const (
	pollInterval = 5 * time.Second
	maxPolls     = 120 // 5s * 120 = 10 minutes
)

// CloudConnector starts the cloud session once a credential is
// available, so the coordinator can hand off without importing
// cloudclient directly.
type CloudConnector interface {
	Run(ctx context.Context)
}

// Coordinator runs the pairing startup algorithm.
type Coordinator struct {
	cloudURL      string
	bridgeID      string
	bridgeVersion string
	haVersion     string
	creds         *credential.Store
	httpClient    *http.Client
}

// New creates a Coordinator.
func New(cloudURL, bridgeID, bridgeVersion, haVersion string, creds *credential.Store) *Coordinator {
	return &Coordinator{
		cloudURL:      strings.TrimSuffix(cloudURL, "/"),
		bridgeID:      bridgeID,
		bridgeVersion: bridgeVersion,
		haVersion:     haVersion,
		creds:         creds,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

type pairingCodeResponse struct {
	Code             string `json:"code"`
	ExpiresAt        string `json:"expiresAt"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type pairingStatusResponse struct {
	Status           string `json:"status"`
	BridgeCredential string `json:"bridgeCredential"`
	TenantID         string `json:"tenantId"`
	BridgeID         string `json:"bridgeId"`
}

// Ensure runs the pairing startup algorithm: if already paired, it
// starts the cloud session directly and returns. Otherwise it requests
// a pairing code, displays it, and polls until paired, expired, or the
// attempt cap is exhausted.
func (co *Coordinator) Ensure(ctx context.Context, cloud CloudConnector) error {
	if co.creds.IsPaired() {
		go cloud.Run(ctx)
		return nil
	}

	code, err := co.requestPairingCode(ctx)
	if err != nil {
		return fmt.Errorf("pairing: request code: %w", err)
	}

	logging.PrintPairingCode(co.cloudURL, code.Code, code.ExpiresInSeconds)

	return co.poll(ctx, code.Code, cloud)
}

func (co *Coordinator) requestPairingCode(ctx context.Context) (*pairingCodeResponse, error) {
	body, err := json.Marshal(map[string]string{
		"bridgeId":      co.bridgeID,
		"bridgeVersion": co.bridgeVersion,
		"haVersion":     co.haVersion,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, co.cloudURL+"/api/bridge/pairing-codes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := co.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("pairing: unexpected status %d", resp.StatusCode)
	}

	var out pairingCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pairing: decode response: %w", err)
	}
	if out.Code == "" {
		return nil, fmt.Errorf("pairing: response missing code")
	}
	return &out, nil
}

// poll implements spec.md §4.8's polling loop and its body-case
// handling.
func (co *Coordinator) poll(ctx context.Context, code string, cloud CloudConnector) error {
	for attempt := 0; attempt < maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}

		if co.creds.IsPaired() {
			go cloud.Run(ctx)
			return nil
		}

		done, err := co.pollOnce(ctx, code, cloud)
		if err != nil {
			slog.Warn("pairing: poll failed, retrying", "error", err)
			continue
		}
		if done {
			return nil
		}
	}

	return fmt.Errorf("pairing: attempt cap exhausted without pairing")
}

// pollOnce issues one status check and returns (done, err). done is
// true when polling should stop: either a terminal outcome (paired or
// expired) or a locally-resolved race.
func (co *Coordinator) pollOnce(ctx context.Context, code string, cloud CloudConnector) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, co.cloudURL+"/api/bridge/pairing-codes/"+code+"/status", nil)
	if err != nil {
		return false, err
	}

	resp, err := co.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		if co.creds.IsPaired() {
			go cloud.Run(ctx)
			return true, nil
		}
		return false, nil
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return false, fmt.Errorf("pairing: non-JSON status response (content-type %q)", resp.Header.Get("Content-Type"))
	}

	var status pairingStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("pairing: decode status response: %w", err)
	}

	switch status.Status {
	case "paired":
		if status.BridgeCredential != "" {
			if err := co.creds.Save(credential.Credential{
				BridgeID:         status.BridgeID,
				BridgeCredential: status.BridgeCredential,
				TenantID:         status.TenantID,
			}); err != nil {
				return false, fmt.Errorf("pairing: save credential: %w", err)
			}
			go cloud.Run(ctx)
			return true, nil
		}
		if co.creds.IsPaired() {
			go cloud.Run(ctx)
			return true, nil
		}
		slog.Error("pairing: code redeemed but no local credential; restart required")
		return true, nil

	case "expired":
		slog.Error("pairing: code expired before pairing completed")
		return true, nil

	default:
		return false, nil
	}
}
