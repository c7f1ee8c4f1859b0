package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
)

const (
	intentAudience   = "payment-intent"
	callbackAudience = "payment-callback"
	defaultIntentTTL = 30 * time.Minute
)

var (
	errSecretRequired  = errors.New("payments signing secret is required")
	errBaseURLRequired = errors.New("payments gateway url is required")
	signingMethod      = jwt.SigningMethodHS256
)

// CallbackStatus is the settlement outcome reported by the gateway.
type CallbackStatus string

const (
	CallbackSucceeded CallbackStatus = "succeeded"
	CallbackFailed    CallbackStatus = "failed"
)

func (s CallbackStatus) IsValid() bool {
	return s == CallbackSucceeded || s == CallbackFailed
}

// IntentRequest describes the amount a buyer is asked to settle.
type IntentRequest struct {
	Reference string
	OrderID   uuid.UUID
	Amount    int64
}

// Intent is a created checkout session the buyer is redirected to.
type Intent struct {
	Reference   string    `json:"reference"`
	RedirectURL string    `json:"redirect_url"`
	Amount      int64     `json:"amount"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CallbackEvent is a verified gateway notification.
type CallbackEvent struct {
	Reference string
	Status    CallbackStatus
	Amount    int64
}

// Gateway abstracts the external payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	VerifyCallback(ctx context.Context, token string) (*CallbackEvent, error)
}

type intentClaims struct {
	Reference string    `json:"ref"`
	OrderID   uuid.UUID `json:"order_id"`
	Amount    int64     `json:"amount"`
	jwt.RegisteredClaims
}

type callbackClaims struct {
	Reference string         `json:"ref"`
	Status    CallbackStatus `json:"status"`
	Amount    int64          `json:"amount"`
	jwt.RegisteredClaims
}

// HostedGateway hands buyers a hosted checkout page. Intents and callbacks are
// HS256 tokens signed with a secret shared with the provider.
type HostedGateway struct {
	baseURL *url.URL
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

func NewHostedGateway(cfg config.PaymentsConfig) (*HostedGateway, error) {
	secret := strings.TrimSpace(cfg.SigningSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	raw := strings.TrimSpace(cfg.GatewayBaseURL)
	if raw == "" {
		return nil, errBaseURLRequired
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid payments gateway url %q", raw)
	}
	ttl := cfg.IntentTTL
	if ttl <= 0 {
		ttl = defaultIntentTTL
	}
	return &HostedGateway{
		baseURL: base,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (g *HostedGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	if req.Reference == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("intent requires a reference and a positive amount")
	}
	now := g.now()
	expires := now.Add(g.ttl)
	claims := intentClaims{
		Reference: req.Reference,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{intentAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("signing intent: %w", err)
	}

	redirect := *g.baseURL
	q := redirect.Query()
	q.Set("intent", signed)
	redirect.RawQuery = q.Encode()

	return &Intent{
		Reference:   req.Reference,
		RedirectURL: redirect.String(),
		Amount:      req.Amount,
		ExpiresAt:   expires.UTC(),
	}, nil
}

func (g *HostedGateway) VerifyCallback(_ context.Context, token string) (*CallbackEvent, error) {
	claims := &callbackClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(token),
		claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithAudience(callbackAudience),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify callback: %w", err)
	}
	if claims.Reference == "" {
		return nil, fmt.Errorf("callback missing reference")
	}
	if !claims.Status.IsValid() {
		return nil, fmt.Errorf("callback carries invalid status %q", claims.Status)
	}
	return &CallbackEvent{
		Reference: claims.Reference,
		Status:    claims.Status,
		Amount:    claims.Amount,
	}, nil
}

// SignCallback produces the token the provider posts back. Used by sandbox
// tooling and tests.
func (g *HostedGateway) SignCallback(reference string, status CallbackStatus, amount int64) (string, error) {
	now := g.now()
	claims := callbackClaims{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{callbackAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString(g.secret)
}
