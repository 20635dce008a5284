package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/models"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.Generate(models.Caller{UserID: "u-1", Email: "ada@example.com"})
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, models.Caller{UserID: "u-1", Email: "ada@example.com"}, claims.Caller())
}

func TestValidateRejects(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.Generate(models.Caller{UserID: "u-1"})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewJWTManager("other", time.Hour).Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewJWTManager("test-secret", time.Hour)
		late.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestGenerateRequiresUser(t *testing.T) {
	_, err := NewJWTManager("s", time.Hour).Generate(models.Caller{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
