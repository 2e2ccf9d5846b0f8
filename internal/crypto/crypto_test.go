package crypto

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func init() {
	// Keep scrypt cheap in tests.
	scryptN = 1 << 10
}

func TestKeystoreRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	var stored encryptedKeyJSON
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Equal(t, "scrypt", stored.KDF.Name)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", stored.Address)

	pk, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, keyHex(pk))

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	stored.Address = "0x0000000000000000000000000000000000000001"
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)
	_, err = DecryptKey(tampered, "hunter2")
	require.Error(t, err, "address is authenticated")
}

func TestLoadKey(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, keyHex(pk))

	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	pk, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, keyHex(pk))

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	generated, addr, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSignerFromHex(generated)
	require.NoError(t, err)
	assert.Equal(t, addr, s.Address().Hex())
}

func TestSignAndRecoverText(t *testing.T) {
	s, err := NewSignerFromHex(testKeyHex)
	require.NoError(t, err)
	sig, err := s.SignText("hello")
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := RecoverText("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	other, err := RecoverText("hello!", sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverText("hello", sig[:64])
	require.Error(t, err)
}

func TestSignInMessageRoundTrip(t *testing.T) {
	msg := SignInMessage{
		Domain:   "creator.market",
		Address:  common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
		ChainID:  8453,
		Nonce:    "n-1",
		IssuedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	parsed, err := ParseSignInMessage(msg.String())
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)

	_, err = ParseSignInMessage("x wants you to sign in with your account:\n0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	require.Error(t, err, "Issued At is required")
}

func testVerifier(now time.Time) *Verifier {
	v := NewVerifier(VerifierConfig{
		Domain:    "creator.market",
		ChainID:   8453,
		MaxAge:    5 * time.Minute,
		Skew:      30 * time.Second,
		SingleUse: true,
	}, nil)
	v.nowFn = func() time.Time { return now }
	return v
}

func TestVerifier(t *testing.T) {
	s, err := NewSignerFromHex(testKeyHex)
	require.NoError(t, err)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	v := testVerifier(now)
	ctx := context.Background()

	token, err := s.IssueToken("creator.market", 8453, now.Add(-time.Minute))
	require.NoError(t, err)
	addr, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	_, err = v.Verify(ctx, token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated, "replay")

	for name, tok := range map[string]func() (string, error){
		"stale":        func() (string, error) { return s.IssueToken("creator.market", 8453, now.Add(-10*time.Minute)) },
		"future":       func() (string, error) { return s.IssueToken("creator.market", 8453, now.Add(time.Minute)) },
		"wrong chain":  func() (string, error) { return s.IssueToken("creator.market", 1, now) },
		"wrong domain": func() (string, error) { return s.IssueToken("evil.example", 8453, now) },
	} {
		token, err := tok()
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, domain.ErrUnauthenticated, name)
	}

	_, err = v.Verify(ctx, "not-a-token")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestVerifierRejectsForgedAddress(t *testing.T) {
	s, err := NewSignerFromHex(testKeyHex)
	require.NoError(t, err)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	token, err := s.IssueToken("creator.market", 8453, now)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	var body tokenJSON
	require.NoError(t, json.Unmarshal(raw, &body))
	body.Address = "0x00000000000000000000000000000000000000A1"
	raw, err = json.Marshal(body)
	require.NoError(t, err)

	_, err = testVerifier(now).Verify(context.Background(), base64.RawURLEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestMemoryNoncesExpire(t *testing.T) {
	m := NewMemoryNonces()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := m.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.False(t, ok)
	now = now.Add(2 * time.Minute)
	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func keyHex(pk *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(pk))
}
