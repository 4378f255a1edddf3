package ccip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// ReceivePath is where a hub accepts relayed messages.
const ReceivePath = "/api/ccip/receive"

// SignatureHeader carries the relay's EIP-191 signature over the request
// body, hex encoded. Hubs only accept bodies signed by a known relay.
const SignatureHeader = "X-Abshub-Relay-Signature"

// Signer signs relay bodies as personal messages.
type Signer interface {
	SignText(msg []byte) ([]byte, error)
}

// HTTPRelay delivers messages to a hub in another process by POSTing them
// to its receive endpoint. Server errors and network failures are retried
// with exponential backoff; 4xx responses are final.
type HTTPRelay struct {
	BaseURL        string
	Signer         Signer
	Client         *http.Client
	MaxElapsedTime time.Duration
	InitialBackoff time.Duration
}

// NewHTTPRelay creates a relay targeting baseURL (e.g. http://hub:11500)
// that signs every body with signer.
func NewHTTPRelay(baseURL string, signer Signer) *HTTPRelay {
	return &HTTPRelay{
		BaseURL:        baseURL,
		Signer:         signer,
		Client:         &http.Client{Timeout: 10 * time.Second},
		MaxElapsedTime: 30 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// CCIPReceive implements domain.CCIPReceiver.
func (r *HTTPRelay) CCIPReceive(ctx context.Context, msg domain.CCIPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if r.Signer == nil {
		return fmt.Errorf("relay %s: no signer", msg.MessageID.Hex())
	}
	sig, err := r.Signer.SignText(body)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+ReceivePath, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, hexutil.Encode(sig))

		resp, err := r.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("relay: %s: %s", resp.Status, bytes.TrimSpace(detail))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("relay rejected: %s: %s", resp.Status, bytes.TrimSpace(detail)))
		}
		return nil
	}

	cfg := backoff.NewExponentialBackOff()
	cfg.InitialInterval = r.InitialBackoff
	cfg.Multiplier = 1.5
	cfg.MaxInterval = 4 * time.Second
	cfg.MaxElapsedTime = r.MaxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(cfg, ctx)); err != nil {
		return fmt.Errorf("relay %s after %d attempts: %w", msg.MessageID.Hex(), attempt, err)
	}
	if attempt > 1 {
		log.Printf("[ccip] relayed %s after %d attempts", msg.MessageID.Hex(), attempt)
	}
	return nil
}
