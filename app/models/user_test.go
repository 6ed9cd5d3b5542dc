package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserHashesPassword(t *testing.T) {
	user, err := CreateUser("alice", "alice@example.com", "s3cretpw")
	require.NoError(t, err)

	assert.Equal(t, ROLE_USER, user.Role)
	assert.Equal(t, STATUS_ACTIVE, user.Status)
	assert.NotEqual(t, "s3cretpw", user.Password)
	assert.True(t, CheckPasswordHash("s3cretpw", user.Password))
	assert.False(t, CheckPasswordHash("wrongpw", user.Password))
}

func TestCreateUserValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short name", "ab", "alice@example.com", "s3cretpw"},
		{"invalid email", "alice", "not-an-email", "s3cretpw"},
		{"short password", "alice", "alice@example.com", "pw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateUser(tt.username, tt.email, tt.password)
			assert.Error(t, err)
		})
	}
}
