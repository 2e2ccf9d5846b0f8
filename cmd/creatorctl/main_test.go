package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/crypto"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestRunRejectsUnknownCommand(t *testing.T) {
	require.Error(t, run(nil, &bytes.Buffer{}))
	require.Error(t, run([]string{"mint"}, &bytes.Buffer{}))
}

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"keygen"}, &out))
	assert.Contains(t, out.String(), "address:     0x")
}

func TestEncryptedKeyIssuesVerifiableToken(t *testing.T) {
	t.Setenv(passwordEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, run([]string{"encrypt-key", "-key", testKey, "-out", path}, &bytes.Buffer{}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var out bytes.Buffer
	require.NoError(t, run([]string{"token", "-keyfile", path, "-domain", "creator.market", "-chain-id", "1"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	signer, err := crypto.NewSignerFromHex(testKey)
	require.NoError(t, err)
	assert.Contains(t, lines[0], signer.Address().Hex())

	v := crypto.NewVerifier(crypto.VerifierConfig{Domain: "creator.market", ChainID: 1}, nil)
	addr, err := v.Verify(context.Background(), lines[1])
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestTokenWrongPassword(t *testing.T) {
	t.Setenv(passwordEnv, "right")
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, run([]string{"encrypt-key", "-key", testKey, "-out", path}, &bytes.Buffer{}))

	t.Setenv(passwordEnv, "wrong")
	err := run([]string{"token", "-keyfile", path}, &bytes.Buffer{})
	require.Error(t, err)
}
