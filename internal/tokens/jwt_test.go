package tokens_test

import (
	"testing"
	"time"

	"github.com/linetally/peoplecount/internal/tokens"
)

func TestTokenGeneration(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", 15*time.Minute, 7*24*time.Hour)
	userID := "user-123"
	username := "admin"

	token, err := mgr.GenerateAccessToken(userID, username)
	if err != nil {
		t.Fatalf("Failed to generate access token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID)
	}
	if claims.Username != username {
		t.Errorf("Expected Username %s, got %s", username, claims.Username)
	}
	if claims.TokenType != tokens.Access {
		t.Errorf("Expected TokenType %s, got %s", tokens.Access, claims.TokenType)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1", 0, 0)
	mgr2 := tokens.NewManager("secret-2", 0, 0)

	token, _ := mgr1.GenerateAccessToken("u1", "admin")
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestRefreshTokenTypeDiffersFromAccess(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", 0, 0)
	token, err := mgr.GenerateRefreshToken("u1", "admin")
	if err != nil {
		t.Fatalf("generate refresh token: %v", err)
	}
	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TokenType != tokens.Refresh {
		t.Errorf("expected refresh token type, got %s", claims.TokenType)
	}
}
