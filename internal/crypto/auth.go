package crypto

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// tokenJSON is the bearer token body, base64url encoded.
type tokenJSON struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// SignInMessage is the parsed form of the text a caller signs.
type SignInMessage struct {
	Domain   string
	Address  common.Address
	ChainID  uint64
	Nonce    string
	IssuedAt time.Time
}

// String renders the message in the sign-in layout wallets display.
func (m SignInMessage) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your account:\n", m.Domain)
	fmt.Fprintf(&b, "%s\n\n", m.Address.Hex())
	fmt.Fprintf(&b, "Chain ID: %d\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// ParseSignInMessage reads the fields of a rendered message. Unknown lines
// are ignored; the address line and Issued At are required.
func ParseSignInMessage(text string) (SignInMessage, error) {
	var m SignInMessage
	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		l := strings.TrimSpace(sc.Text())
		switch {
		case line == 1:
			m.Domain, _, _ = strings.Cut(l, " wants you to sign in")
		case line == 2:
			addr, err := parseAddress(l)
			if err != nil {
				return m, err
			}
			m.Address = addr
		default:
			key, value, ok := strings.Cut(l, ": ")
			if !ok {
				continue
			}
			switch key {
			case "Chain ID":
				id, err := strconv.ParseUint(value, 10, 64)
				if err != nil {
					return m, fmt.Errorf("invalid chain ID %q", value)
				}
				m.ChainID = id
			case "Nonce":
				m.Nonce = value
			case "Issued At":
				t, err := time.Parse(time.RFC3339, value)
				if err != nil {
					return m, fmt.Errorf("invalid Issued At %q", value)
				}
				m.IssuedAt = t
			}
		}
	}
	if m.Address == (common.Address{}) {
		return m, fmt.Errorf("message has no address line")
	}
	if m.IssuedAt.IsZero() {
		return m, fmt.Errorf("message has no Issued At line")
	}
	return m, nil
}

// IssueToken signs a fresh sign-in message and encodes it as a bearer token.
func (s *Signer) IssueToken(domainName string, chainID uint64, now time.Time) (string, error) {
	msg := SignInMessage{
		Domain:   domainName,
		Address:  s.address,
		ChainID:  chainID,
		Nonce:    uuid.NewString(),
		IssuedAt: now,
	}
	text := msg.String()
	sig, err := s.SignText(text)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(tokenJSON{Message: text, Signature: hexutil.Encode(sig), Address: s.address.Hex()})
	if err != nil {
		return "", fmt.Errorf("crypto: encoding token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(body), nil
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Domain, when set, must match the message's domain line.
	Domain string
	// ChainID, when non-zero, must match the message's Chain ID.
	ChainID uint64
	// MaxAge bounds how old Issued At may be.
	MaxAge time.Duration
	// Skew tolerates clients whose clock runs ahead.
	Skew time.Duration
	// SingleUse rejects a token whose nonce was already seen.
	SingleUse bool
}

// Verifier checks bearer tokens and returns the authenticated address.
type Verifier struct {
	cfg    VerifierConfig
	nonces domain.NonceStore
	nowFn  func() time.Time
}

// NewVerifier creates a Verifier. nonces is only consulted when SingleUse is
// set; nil selects an in-process store.
func NewVerifier(cfg VerifierConfig, nonces domain.NonceStore) *Verifier {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	if nonces == nil {
		nonces = NewMemoryNonces()
	}
	return &Verifier{cfg: cfg, nonces: nonces, nowFn: time.Now}
}

// Verify decodes token, checks its signature and age and returns the
// signer. Every rejection wraps domain.ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, token string) (common.Address, error) {
	body, sig, err := decodeToken(token)
	if err != nil {
		return common.Address{}, unauthenticated(err.Error())
	}
	claimed, err := parseAddress(body.Address)
	if err != nil {
		return common.Address{}, unauthenticated(err.Error())
	}
	signer, err := RecoverText(body.Message, sig)
	if err != nil {
		return common.Address{}, unauthenticated(err.Error())
	}
	if signer != claimed {
		return common.Address{}, unauthenticated("signature does not match address")
	}

	msg, err := ParseSignInMessage(body.Message)
	if err != nil {
		return common.Address{}, unauthenticated(err.Error())
	}
	if msg.Address != claimed {
		return common.Address{}, unauthenticated("message signed for another address")
	}
	if v.cfg.Domain != "" && msg.Domain != v.cfg.Domain {
		return common.Address{}, unauthenticated("wrong domain")
	}
	if v.cfg.ChainID != 0 && msg.ChainID != v.cfg.ChainID {
		return common.Address{}, unauthenticated("wrong chain ID")
	}
	now := v.nowFn()
	if now.Sub(msg.IssuedAt) > v.cfg.MaxAge {
		return common.Address{}, unauthenticated("token expired")
	}
	if msg.IssuedAt.Sub(now) > v.cfg.Skew {
		return common.Address{}, unauthenticated("token issued in the future")
	}

	if v.cfg.SingleUse {
		if msg.Nonce == "" {
			return common.Address{}, unauthenticated("message has no nonce")
		}
		fresh, err := v.nonces.Claim(ctx, claimed.Hex()+":"+msg.Nonce, v.cfg.MaxAge+v.cfg.Skew)
		if err != nil {
			return common.Address{}, fmt.Errorf("crypto: claim nonce: %w", err)
		}
		if !fresh {
			return common.Address{}, unauthenticated("token replayed")
		}
	}
	return signer, nil
}

func unauthenticated(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, reason)
}

func decodeToken(token string) (tokenJSON, []byte, error) {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return tokenJSON{}, nil, fmt.Errorf("token is not base64url")
	}
	var body tokenJSON
	if err := json.Unmarshal(raw, &body); err != nil {
		return tokenJSON{}, nil, fmt.Errorf("token is not JSON")
	}
	if body.Message == "" || body.Signature == "" || body.Address == "" {
		return tokenJSON{}, nil, fmt.Errorf("token needs message, signature and address")
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		return tokenJSON{}, nil, fmt.Errorf("signature is not 0x-prefixed hex")
	}
	return body, sig, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// MemoryNonces is an in-process domain.NonceStore for single-node setups.
type MemoryNonces struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	nowFn func() time.Time
}

var _ domain.NonceStore = (*MemoryNonces)(nil)

// NewMemoryNonces creates an empty store.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), nowFn: time.Now}
}

// Claim implements domain.NonceStore. Expired entries are swept on each call.
func (m *MemoryNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	for k, exp := range m.seen {
		if now.After(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}
