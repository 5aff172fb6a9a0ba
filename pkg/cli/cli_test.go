package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/beam-cloud/mailsync/pkg/auth"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := out
	out = buf
	t.Cleanup(func() { out = prev })

	rootCmd.SetArgs(args)
	return buf, Execute()
}

func TestGenKey(t *testing.T) {
	buf, err := run(t, "genkey", "--json")
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	key, err := base64.StdEncoding.DecodeString(resp["key"])
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestTokenIssue(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	t.Setenv("MAILSYNC_GATEWAY__AUTHSECRET", secret)

	buf, err := run(t, "token", "issue", "--json", "--subject", "ops", "--business", "12")
	require.NoError(t, err)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))

	validator, err := auth.NewJWTValidator(secret)
	require.NoError(t, err)
	info, err := validator.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Subject)
	assert.Equal(t, uint(12), info.BusinessId)
}

func TestSyncUnknownMailboxLocalMode(t *testing.T) {
	t.Setenv("MAILSYNC_MODE", "local")

	_, err := run(t, "sync", "7", "--json")
	var notFound *types.MailboxNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, uint(7), notFound.MailboxId)
}

func TestSyncRejectsBadID(t *testing.T) {
	_, err := run(t, "sync", "abc")
	assert.EqualError(t, err, `invalid id: "abc"`)
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"mailbox", fmt.Errorf("sync: %w", &types.MailboxNotFoundError{MailboxId: 3}), "Mailbox 3 does not exist"},
		{"inactive", &types.CredentialInactiveError{CredentialId: 4}, "Credential 4 is deactivated"},
		{"revoked", &types.RefreshFailedError{CredentialId: 5, Permanent: true, Cause: errors.New("invalid_grant")}, "Credential 5 was revoked by the provider"},
		{"provider", &types.ProviderError{StatusCode: 503, Message: "busy"}, "Mail provider returned 503 (busy)"},
		{"deep wrap", errors.New("a: b: c: d"), "a: d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatError(tt.err))
		})
	}
}

func TestSuggestionsForRevokedCredential(t *testing.T) {
	err := &types.MailboxSyncAbortedError{MailboxId: 1, Cause: &types.RefreshFailedError{CredentialId: 2, Permanent: true}}
	assert.Len(t, GetErrorSuggestions(err), 2)
	assert.Nil(t, GetErrorSuggestions(errors.New("other")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
}
