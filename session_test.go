package accounts_test

import (
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionObjectGetUserUUID(t *testing.T) {
	id := uuid.New()

	session := &accounts.SessionObject{UserID: id.String()}
	got, err := session.GetUserUUID()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	session = &accounts.SessionObject{UserID: "not-a-uuid"}
	_, err = session.GetUserUUID()
	require.Error(t, err)
}

func TestSessionObjectClearCallerData(t *testing.T) {
	session := &accounts.SessionObject{
		UserID: uuid.NewString(),
		Data: map[string]any{
			"cart_id":      "abc-123",
			"last_search":  "red shoes",
			"_csrf":        "token-value",
			"_impersonate": "other-user",
		},
	}

	session.ClearCallerData()

	// framework entries survive, caller entries are gone
	assert.Equal(t, map[string]any{
		"_csrf":        "token-value",
		"_impersonate": "other-user",
	}, session.GetData())
}

func TestSessionObjectClearCallerDataNilData(t *testing.T) {
	session := &accounts.SessionObject{UserID: uuid.NewString()}
	session.ClearCallerData()
	assert.Nil(t, session.GetData())
}
