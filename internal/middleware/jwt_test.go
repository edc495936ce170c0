package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readmaster-api/internal/middleware"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseTokenReadsStringSubject(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "8f3c1a2e-student",
		"role": "Student",
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	identity, err := middleware.ParseToken(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, "8f3c1a2e-student", identity.UserID)
	require.Equal(t, "student", identity.Role)
}

func TestParseTokenRejectsRefreshTokens(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "user-1",
		"type": "refresh",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err := middleware.ParseToken(testSecret, token)
	require.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	wrong := signToken(t, "other", jwt.MapClaims{"sub": "user-1"})
	_, err := middleware.ParseToken(testSecret, wrong)
	require.ErrorIs(t, err, middleware.ErrInvalidToken)

	expired := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err = middleware.ParseToken(testSecret, expired)
	require.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestParseTokenRequiresSubject(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"role": "admin"})

	_, err := middleware.ParseToken(testSecret, token)
	require.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestJWTProtectedSetsLocals(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.JWTProtected(testSecret))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id": c.Locals("user_id"),
			"role":    c.Locals("user_role"),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"user_id": "teacher-9", "role": "teacher"}))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	missing := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err = app.Test(missing, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	malformed := httptest.NewRequest(http.MethodGet, "/", nil)
	malformed.Header.Set("Authorization", "Token abc")
	resp, err = app.Test(malformed, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
