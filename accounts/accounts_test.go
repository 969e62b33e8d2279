package accounts

import (
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pw(s string) *memguard.LockedBuffer {
	return memguard.NewBufferFromBytes([]byte(s))
}

func TestCreateAndVerify(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("alice", pw("correct horse"), "Administrator", []string{"redfish"}, false))

	acct, err := r.Verify("alice", pw("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, "Administrator", acct.Role)
	assert.Equal(t, []string{"redfish"}, acct.Groups)
	assert.False(t, acct.PasswordExpired)
}

func TestVerify_WrongPassword(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("alice", pw("correct horse"), "Operator", nil, false))

	_, err := r.Verify("alice", pw("battery staple"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown user yields the indistinguishable error.
	_, err = r.Verify("mallory", pw("anything"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreate_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("alice", pw("one"), "Operator", nil, false))
	assert.ErrorIs(t, r.Create("alice", pw("two"), "Operator", nil, false), ErrAccountExists)
}

func TestVerify_NormalizedUsername(t *testing.T) {
	r := NewRegistry()
	// U+212B ANGSTROM SIGN normalizes to the same sequence as 'A' + combining
	// ring, so both spellings name the same account.
	require.NoError(t, r.Create("Åke", pw("secret"), "Operator", nil, false))

	_, err := r.Verify("Åke", pw("secret"))
	assert.NoError(t, err)
}

func TestPasswordExpiredFlow(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("alice", pw("provisioned"), "Administrator", nil, true))

	acct, err := r.Verify("alice", pw("provisioned"))
	require.NoError(t, err)
	assert.True(t, acct.PasswordExpired)

	require.NoError(t, r.SetPassword("alice", pw("chosen by alice")))

	_, err = r.Verify("alice", pw("provisioned"))
	assert.ErrorIs(t, err, ErrInvalidCredentials, "old password must stop working")

	acct, err = r.Verify("alice", pw("chosen by alice"))
	require.NoError(t, err)
	assert.False(t, acct.PasswordExpired)
}

func TestDelete(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("alice", pw("secret"), "Operator", nil, false))
	require.NoError(t, r.Delete("alice"))

	_, err := r.Verify("alice", pw("secret"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, r.Delete("alice"), ErrAccountNotFound)
}

func TestSetPassword_UnknownAccount(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.SetPassword("nobody", pw("x")), ErrAccountNotFound)
}
