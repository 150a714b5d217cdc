package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/kishor-kashid/collabcanvas/models"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user1", "github", "12345")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	id, provider, providerId, expiry, err := svc.VerifyJWT(token)
	assert.NoError(t, err)
	assert.Equal(t, "user1", id)
	assert.Equal(t, "github", provider)
	assert.Equal(t, "12345", providerId)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiry, time.Minute)
}

func TestVerifyJWT_RejectsWrongSecret(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	claims := jwt.MapClaims{
		"id":         "user1",
		"provider":   "github",
		"providerId": "12345",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	assert.NoError(t, err)

	_, _, _, _, err = svc.VerifyJWT(token)
	assert.Error(t, err)
}

func TestVerifyJWT_RejectsExpired(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	claims := jwt.MapClaims{
		"id":         "user1",
		"provider":   "github",
		"providerId": "12345",
		"exp":        time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	assert.NoError(t, err)

	_, _, _, _, err = svc.VerifyJWT(token)
	assert.Error(t, err)
}

func TestVerifyJWT_RejectsUnsignedAlg(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	claims := jwt.MapClaims{
		"id":         "user1",
		"provider":   "github",
		"providerId": "12345",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	assert.NoError(t, err)

	_, _, _, _, err = svc.VerifyJWT(token)
	assert.Error(t, err)
}

func TestVerifyJWT_RejectsForeignIssuer(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	// Right secret, right shape, wrong issuer
	claims := jwt.MapClaims{
		"sub":        "user1",
		"iss":        "someone-else",
		"provider":   "github",
		"providerId": "12345",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	assert.NoError(t, err)

	_, _, _, _, err = svc.VerifyJWT(token)
	assert.Error(t, err)
}

func TestAuthenticateToken_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	token, err := svc.CreateJWT("user1", "github", "12345")
	assert.NoError(t, err)

	expected := models.User{Id: "user1", Username: "alice", Provider: "github", ProviderId: "12345"}
	mockStore.On("GetUser", ctx, "github", "12345").Return(expected, nil)

	user, err := svc.AuthenticateToken(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, expected, user)
}

func TestAuthenticateToken_EmptyToken(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	_, err := svc.AuthenticateToken(context.Background(), "")
	assert.Error(t, err)
	mockStore.AssertNotCalled(t, "GetUser", "github", "12345")
}
