package google

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pysugar/filedesk/internal/apperr"
)

const (
	stateIssuer = "filedesk-oauth"
	// DefaultStateTTL bounds how long a consent round trip may take.
	DefaultStateTTL = 10 * time.Minute
)

type stateClaims struct {
	RedirectURL string `json:"redirect_url"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks the OAuth state parameter. The redirect URL
// used to start the flow travels inside the token so the callback exchanges
// the code against the same value.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	sum := sha256.Sum256([]byte("oauth-state:" + secret))
	return &StateSigner{key: sum[:], ttl: ttl, now: time.Now}
}

// Sign returns a state token bound to redirectURL.
func (s *StateSigner) Sign(redirectURL string) (string, error) {
	now := s.now()
	claims := stateClaims{
		RedirectURL: redirectURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify checks the signature and expiry and returns the bound redirect URL.
func (s *StateSigner) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.Validation("verify state", "missing state parameter")
	}
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrValidation, "verify state", "", err)
	}
	if claims.RedirectURL == "" {
		return "", apperr.Wrap(apperr.ErrValidation, "verify state", "", errors.New("state carries no redirect url"))
	}
	return claims.RedirectURL, nil
}
