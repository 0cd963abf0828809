package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/ludostacked/backend/internal/v1/logging"
	"go.uber.org/zap"
)

// MockVerifier is a development-only token verifier that accepts any token
type MockVerifier struct{}

func (m *MockVerifier) Verify(tokenString string) (*Claims, error) {
	// For development, parse the JWT token to extract the real 'sub' claim
	// so user ids line up between frontend and backend
	var subject, email string

	// Parse JWT token (format: header.payload.signature)
	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		// Decode the payload (base64 URL encoded)
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var claims map[string]interface{}
			if json.Unmarshal(payload, &claims) == nil {
				if sub, ok := claims["sub"].(string); ok {
					subject = sub
				}
				if e, ok := claims["email"].(string); ok {
					email = e
				}
				logging.Info(context.Background(), "MockVerifier parsed JWT", zap.String("subject", subject), zap.String("email", logging.RedactEmail(email)))
			}
		}
	}

	// Fallback to default if parsing failed
	if subject == "" {
		subject = "dev-user-123"
	}
	if email == "" {
		email = "dev@example.com"
	}

	claims := &Claims{
		Email: email,
		Role:  ExpectedAudience,
	}
	claims.Subject = subject
	return claims, nil
}
