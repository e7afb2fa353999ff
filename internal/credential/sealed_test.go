package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	want := Credential{Username: "alice", Password: "correct horse", Domain: "CORP"}
	sealed, err := Seal(want, "passphrase-1")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, string(sealed), "correct horse")

	got, err := Open(sealed, "passphrase-1")
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = Open(sealed, "passphrase-2")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Open(sealed, "passphrase-1")
	assert.ErrorIs(t, err, ErrBadPassphrase)
}

func TestSeal_ShortPassphrase(t *testing.T) {
	_, err := Seal(Credential{Username: "a"}, "short")
	assert.Error(t, err)
}

func TestOpen_Truncated(t *testing.T) {
	_, err := Open([]byte(sealMagic+"abc"), "passphrase-1")
	assert.ErrorContains(t, err, "truncated")
}

func TestResolve_SealedFile(t *testing.T) {
	dir := t.TempDir()
	sealed, err := Seal(Credential{Username: "bob", Password: "pw"}, "passphrase-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nas.sealed"), sealed, 0o600))

	r := NewResolver(dir, "SMBDOCTOR_PASSPHRASE")
	r.LookupEnv = envLookup(map[string]string{"SMBDOCTOR_PASSPHRASE": "passphrase-1"})
	c, err := r.Resolve(context.Background(), "file://nas.sealed")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Username)

	r.LookupEnv = envLookup(nil)
	_, err = r.Resolve(context.Background(), "file://nas.sealed")
	assert.ErrorContains(t, err, "SMBDOCTOR_PASSPHRASE is not set")

	_, err = NewResolver(dir, "").Resolve(context.Background(), "file://nas.sealed")
	assert.ErrorContains(t, err, "no passphrase is configured")
}

func TestFormatParseFile(t *testing.T) {
	c := Credential{Username: "u", Password: "p=q", Domain: "D"}
	got, err := ParseFile(Format(c))
	require.NoError(t, err)
	assert.Equal(t, c, *got)
}
