package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/packclaim/internal/clock"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	paymentdomain "github.com/smallbiznis/packclaim/internal/payment/domain"
	"github.com/smallbiznis/packclaim/internal/pricing"
)

const (
	SignatureHeader  = "Stripe-Signature"
	defaultTolerance = 5 * time.Minute
)

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

// NewAdapter verifies with secret. A non-positive tolerance falls back to five minutes.
func NewAdapter(secret string, tolerance time.Duration, clk clock.Clock) *Adapter {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Adapter{
		webhookSecret: strings.TrimSpace(secret),
		tolerance:     tolerance,
		clock:         clk,
	}
}

func (a *Adapter) Provider() string {
	return "stripe"
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	signedAt := time.Unix(ts, 0)
	if age := a.clock.Now().Sub(signedAt); age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	expected := computeSignature(a.webhookSecret, ts, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// SignPayload builds a Stripe-Signature header value for payload.
func SignPayload(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, payload))
}

func computeSignature(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case paymentdomain.EventTypeCheckoutCompleted, paymentdomain.EventTypeAsyncPaymentSucceeded:
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	// Delayed payment methods complete the session unpaid and confirm later
	// with async_payment_succeeded.
	if session.PaymentStatus != "paid" {
		return nil, paymentdomain.ErrEventIgnored
	}

	packageID := readMetadataValue(session.Metadata, "package_id")
	if packageID == "" {
		packageID = strings.TrimSpace(session.ClientReferenceID)
	}
	if packageID == "" {
		return nil, paymentdomain.ErrInvalidMetadata
	}
	paymentType, err := pricing.ParsePaymentType(readMetadataValue(session.Metadata, "payment_type"))
	if err != nil {
		return nil, paymentdomain.ErrInvalidMetadata
	}
	tier, err := inventorydomain.ParseInsuranceTier(readMetadataValue(session.Metadata, "insurance_tier"))
	if err != nil {
		return nil, paymentdomain.ErrInvalidMetadata
	}
	if session.AmountTotal <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:          a.Provider(),
		ProviderEventID:   event.ID,
		EventType:         eventType,
		ReconciliationKey: session.ID,
		PackageID:         packageID,
		CustomerID:        readMetadataValue(session.Metadata, "customer_id"),
		PaymentType:       paymentType,
		InsuranceTier:     tier,
		Amount:            session.AmountTotal,
		Currency:          strings.ToLower(strings.TrimSpace(session.Currency)),
		OccurredAt:        timestamp(event.Created, session.Created),
	}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Created           int64             `json:"created"`
	Metadata          map[string]string `json:"metadata"`
}

func parseStripeSignature(header string) (int64, []string, error) {
	var (
		rawTimestamp string
		signatures   []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			rawTimestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if rawTimestamp == "" || len(signatures) == 0 {
		return 0, nil, paymentdomain.ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return 0, nil, paymentdomain.ErrInvalidSignature
	}
	return ts, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}
