package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDecisionLog(t *testing.T) {
	log := NewDecisionLog(DecisionAllow, "auth0|user-123", "arn:aws:execute-api:us-east-1:1:api/prod/GET/items")

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, DecisionAllow, log.Effect)
	assert.Equal(t, "auth0|user-123", log.PrincipalID)
	assert.False(t, log.Timestamp.IsZero())
	assert.Equal(t, "UTC", log.Timestamp.Location().String())
	assert.True(t, log.Allowed())
}

func TestDecisionLog_TableName(t *testing.T) {
	assert.Equal(t, "authorization_decisions", DecisionLog{}.TableName())
}

func TestDecisionLog_Builders(t *testing.T) {
	log := NewDecisionLog(DecisionDeny, "", "res").
		WithReason("token_expired").
		WithToken("k1", "https://issuer.example.com/").
		WithRequest("req-1", "10.0.0.1", "curl/8.0")

	assert.False(t, log.Allowed())
	assert.Equal(t, "token_expired", log.Reason)
	assert.Equal(t, "k1", log.KeyID)
	assert.Equal(t, "https://issuer.example.com/", log.Issuer)
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, "10.0.0.1", log.IPAddress)
	assert.Equal(t, "curl/8.0", log.UserAgent)
}

func TestDecisionLog_JSONOmitsEmptyTokenFields(t *testing.T) {
	log := NewDecisionLog(DecisionDeny, "", "res")

	data, err := json.Marshal(log)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Deny", decoded["effect"])
	assert.NotContains(t, decoded, "reason")
	assert.NotContains(t, decoded, "key_id")
	assert.NotContains(t, decoded, "issuer")
}
