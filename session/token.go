package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "kind" claim.
const (
	KindSession = "session"
	KindVisitor = "visitor"
)

const issuer = "pledgesite-api"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies session and visitor cookies with HS256.
type Tokens struct {
	secret     []byte
	sessionTTL time.Duration
	visitorTTL time.Duration
	now        func() time.Time
}

func NewTokens(secret string, sessionTTL, visitorTTL time.Duration) *Tokens {
	return &Tokens{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		visitorTTL: visitorTTL,
		now:        time.Now,
	}
}

func (t *Tokens) SessionTTL() time.Duration { return t.sessionTTL }
func (t *Tokens) VisitorTTL() time.Duration { return t.visitorTTL }

func (t *Tokens) IssueSession(sessionID string) (string, error) {
	return t.issue(KindSession, sessionID, t.sessionTTL)
}

func (t *Tokens) IssueVisitor(visitorID string) (string, error) {
	return t.issue(KindVisitor, visitorID, t.visitorTTL)
}

func (t *Tokens) issue(kind, subject string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token of the given kind and returns its subject id.
func (t *Tokens) Parse(tokenString, kind string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Kind != kind || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns an id of the form session_<unix ms>_<7 random chars>.
func NewSessionID(now time.Time) string {
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomString(7)
}

func NewVisitorID() string {
	return uuid.NewString()
}

func randomString(n int) string {
	b := make([]byte, n)
	size := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		r, err := rand.Int(rand.Reader, size)
		if err != nil {
			return uuid.NewString()[:n]
		}
		b[i] = idAlphabet[r.Int64()]
	}
	return string(b)
}
