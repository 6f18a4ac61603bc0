package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HMACVerifier validates HS256 tokens locally with a shared secret, for
// deployments where the auth issuer and this service share one. Expiry and
// issuer claims are enforced by the jwt parser.
type HMACVerifier struct {
	secret []byte
	issuer string
}

func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *HMACVerifier) Verify(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, nil
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, nil
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, nil
	}

	sessionID := uuid.Nil
	if sid, ok := claims["sid"].(string); ok {
		if parsedSID, err := uuid.Parse(sid); err == nil {
			sessionID = parsedSID
		}
	}
	return &Session{UserID: userID, SessionID: sessionID}, nil
}
