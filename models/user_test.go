package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	user := NewUser("u-42", "alice")

	assert.Equal(t, "u-42", user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)
}

func TestUser_JSONMarshaling(t *testing.T) {
	user := NewUser("u-1", "alice")

	data, err := json.Marshal(user)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "u-1", decoded["id"])
	assert.Equal(t, "alice", decoded["username"])
	assert.Contains(t, decoded, "created_at")
}
