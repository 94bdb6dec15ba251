package redisstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// SnapshotSigner provides the JWS operations the store needs to make
// snapshots at rest tamper evident.
type SnapshotSigner interface {
	// Sign returns a compact JWS for the given snapshot using the active key.
	Sign(payload []byte) (string, error)
	// Verify parses and verifies a compact JWS and returns its payload and
	// the kid used.
	Verify(token string) (payload []byte, kid string, err error)
}

// Keyring implements SnapshotSigner using an in-memory set of Ed25519 keys
// with a designated active key for signing. Older keys stay registered so
// snapshots written before a rotation still verify.
type Keyring struct {
	activeKid string
	privKeys  map[string]ed25519.PrivateKey
	pubKeys   map[string]ed25519.PublicKey
}

func NewKeyring() *Keyring {
	return &Keyring{
		privKeys: make(map[string]ed25519.PrivateKey),
		pubKeys:  make(map[string]ed25519.PublicKey),
	}
}

// AddEd25519Key registers a key pair under kid. The active key is unchanged.
func (k *Keyring) AddEd25519Key(kid string, priv ed25519.PrivateKey) {
	k.privKeys[kid] = priv
	k.pubKeys[kid] = priv.Public().(ed25519.PublicKey)
}

// GenerateKey creates a fresh Ed25519 key pair, registers it under kid and
// makes it the active signing key.
func (k *Keyring) GenerateKey(kid string) error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ed25519 key: %w", err)
	}
	k.AddEd25519Key(kid, priv)
	return k.SetActive(kid)
}

// SetActive selects the key used for signing.
func (k *Keyring) SetActive(kid string) error {
	if _, ok := k.privKeys[kid]; !ok {
		return fmt.Errorf("unknown kid: %s", kid)
	}
	k.activeKid = kid
	return nil
}

func (k *Keyring) ActiveKID() string { return k.activeKid }

func (k *Keyring) Sign(payload []byte) (string, error) {
	if k.activeKid == "" {
		return "", fmt.Errorf("no active kid configured")
	}
	priv, ok := k.privKeys[k.activeKid]
	if !ok {
		return "", fmt.Errorf("active kid not found: %s", k.activeKid)
	}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", k.activeKid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize jws: %w", err)
	}
	return compact, nil
}

func (k *Keyring) Verify(token string) ([]byte, string, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, "", fmt.Errorf("unexpected signatures: %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Protected.KeyID
	pub, ok := k.pubKeys[kid]
	if !ok {
		return nil, kid, fmt.Errorf("unknown kid: %s", kid)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return nil, kid, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, kid, nil
}
