package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issuerMarker is what an identity-provider issuer must contain when no exact issuer is configured.
const issuerMarker = "cognito-idp"

var acceptedTokenUses = map[string]struct{}{"id": {}, "access": {}}

// Claims defines the structure of the data carried by identity-provider tokens.
type Claims struct {
	TokenUse        string `json:"token_use"`
	CognitoUsername string `json:"cognito:username,omitempty"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// identity picks the first non-empty of cognito:username, username, sub.
func (c Claims) identity() string {
	for _, candidate := range []string{c.CognitoUsername, c.Username, c.Subject} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// KeySource provides the verification key of a token and the algorithms it accepts.
type KeySource interface {
	Key(ctx context.Context, token *jwt.Token) (any, error)
	Methods() []string
}

var _ contract.ICredentialVerifier = (*Verifier)(nil)

// Verifier turns a bearer token into an identity. It has no side effects.
type Verifier struct {
	keys     KeySource
	issuer   string
	insecure bool
	now      func() time.Time
}

// NewVerifier checks signatures with keys.
// An empty issuer falls back to accepting any identity-provider issuer.
func NewVerifier(keys KeySource, issuer string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, now: time.Now}
}

// NewInsecureVerifier decodes tokens without checking their signature.
// Claims are still enforced. Only meant for local development behind a trusted proxy.
func NewInsecureVerifier(issuer string) *Verifier {
	return &Verifier{issuer: issuer, insecure: true, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, errors.Unauthorized("missing token")
	}
	if strings.Count(token, ".") != 2 {
		return domain.Identity{}, errors.Unauthorized("malformed token")
	}

	var claims Claims
	if err := v.parse(ctx, token, &claims); err != nil {
		return domain.Identity{}, err
	}

	if err := v.checkIssuer(claims.Issuer); err != nil {
		return domain.Identity{}, err
	}
	if _, ok := acceptedTokenUses[claims.TokenUse]; !ok {
		return domain.Identity{}, errors.Unauthorized("invalid token use")
	}
	userID := claims.identity()
	if userID == "" {
		return domain.Identity{}, errors.Unauthorized("token carries no identity")
	}

	identity := domain.Identity{
		UserID:   userID,
		Username: claims.Username,
		Email:    claims.Email,
		TokenUse: claims.TokenUse,
	}
	if claims.ExpiresAt != nil {
		identity.Expiry = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (v *Verifier) parse(ctx context.Context, token string, claims *Claims) error {
	if v.insecure {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return errors.Unauthorized("malformed token")
		}
		// Without a signature only a present, lapsed exp is rejected.
		if claims.ExpiresAt != nil && !v.now().Before(claims.ExpiresAt.Time) {
			return errors.Unauthorized("token expired")
		}
		return nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.keys.Methods()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.keys.Key(ctx, t)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrTransient):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Unauthorized("token expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.Unauthorized("malformed token")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.Unauthorized("invalid signature")
	default:
		return errors.Unauthorized(err.Error())
	}
}

func (v *Verifier) checkIssuer(iss string) error {
	if v.issuer != "" {
		if iss != v.issuer {
			return errors.Unauthorized("invalid issuer")
		}
		return nil
	}
	if !strings.Contains(iss, issuerMarker) {
		return errors.Unauthorized("invalid issuer")
	}
	return nil
}

// HMACKeys verifies HS256 tokens against a shared secret.
type HMACKeys struct {
	secret []byte
}

func NewHMACKeys(secret string) HMACKeys {
	return HMACKeys{secret: []byte(secret)}
}

func (h HMACKeys) Key(_ context.Context, _ *jwt.Token) (any, error) {
	return h.secret, nil
}

func (h HMACKeys) Methods() []string {
	return []string{jwt.SigningMethodHS256.Alg()}
}

// GenerateToken signs claims with the shared secret. Used by tooling and tests.
func GenerateToken(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
