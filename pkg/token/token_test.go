package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/config"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	prev := config.Cfg.TaskCallbackSecret
	config.Cfg.TaskCallbackSecret = secret
	t.Cleanup(func() { config.Cfg.TaskCallbackSecret = prev })
}

func TestTaskTokenRoundTrip(t *testing.T) {
	withSecret(t, "task-secret")

	tok, err := SignTaskToken("mci_42", time.Minute)
	require.NoError(t, err)

	taskID, err := ValidateTaskToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "mci_42", taskID)
}

func TestTaskTokenRejects(t *testing.T) {
	withSecret(t, "task-secret")

	expired, err := SignTaskToken("mci_1", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateTaskToken(expired)
	assert.Error(t, err)

	good, err := SignTaskToken("mci_1", time.Minute)
	require.NoError(t, err)
	withSecret(t, "other-secret")
	_, err = ValidateTaskToken(good)
	assert.Error(t, err)

	withSecret(t, "")
	_, err = SignTaskToken("mci_1", time.Minute)
	assert.Error(t, err)
}
