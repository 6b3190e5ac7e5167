package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"showrunner/internal/logging"
)

// billingEvent is the payment-provider payload applied to the credit ledger.
type billingEvent struct {
	Type      string  `json:"type"`
	UserID    string  `json:"userId"`
	AmountUSD float64 `json:"amountUsd"`
	Reference string  `json:"reference"`
}

// handleBillingWebhook verifies the HMAC-SHA256 signature over the raw body
// and applies credit grants. Unknown event types acknowledge without effect
// so the provider does not retry them forever.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	secret := strings.TrimSpace(s.cfg.API.WebhookSecret)
	if secret == "" {
		s.writeError(w, http.StatusNotImplemented, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !verifySignature(secret, body, r.Header.Get("X-Webhook-Signature")) {
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event billingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	switch event.Type {
	case "credit.granted":
		if event.UserID == "" || event.AmountUSD <= 0 {
			s.writeError(w, http.StatusBadRequest, "credit grant requires userId and a positive amount")
			return
		}
		if err := s.ledger.GrantCredit(r.Context(), event.UserID, event.AmountUSD, event.Reference); err != nil {
			s.logger.Error("credit grant failed", logging.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to apply credit grant")
			return
		}
		s.logger.Info("credit granted",
			logging.String(logging.FieldUserID, event.UserID),
			logging.Float64("amount_usd", event.AmountUSD))
	default:
		s.logger.Info("ignoring billing event", logging.String(logging.FieldEventType, event.Type))
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func verifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
