package vault

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"

	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/repository"
)

// AlgorithmChaCha20Poly1305V1 identifies the current at-rest encryption
// scheme. The tag is stored on every record so a future scheme or master-key
// rotation can tell formats apart.
const AlgorithmChaCha20Poly1305V1 = "chacha20poly1305/v1"

// Vault custodies account signing keys. Keys are encrypted at rest with an
// AEAD under an externally supplied master key; plaintext key material exists
// only inside a Sign or SignerAddress call and is zeroed before returning.
// ed25519 signing is safe for concurrent use with the same key, so no
// per-account serialization is needed.
type Vault struct {
	secrets   repository.WalletSecretRepository
	masterKey []byte
	log       *logrus.Logger
}

// New creates a Vault. masterKey must be exactly 32 bytes and comes from
// configuration, never generated at runtime.
func New(secrets repository.WalletSecretRepository, masterKey []byte, log *logrus.Logger) (*Vault, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Vault{secrets: secrets, masterKey: key, log: log}, nil
}

// Encrypt seals a plaintext signing key into a WalletSecret record with a
// fresh random nonce. The account id is bound in as associated data so a
// ciphertext swapped between accounts fails authentication.
func (v *Vault) Encrypt(accountID uuid.UUID, plaintextKey ed25519.PrivateKey) (*model.WalletSecret, error) {
	aead, err := chacha20poly1305.New(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintextKey, accountID[:])
	return &model.WalletSecret{
		AccountID:  accountID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Algorithm:  AlgorithmChaCha20Poly1305V1,
	}, nil
}

// Store encrypts and persists a signing key for an account.
func (v *Vault) Store(ctx context.Context, accountID uuid.UUID, plaintextKey ed25519.PrivateKey) error {
	secret, err := v.Encrypt(accountID, plaintextKey)
	if err != nil {
		return err
	}
	return v.secrets.Create(ctx, secret)
}

// Sign decrypts the account's signing key, signs payload with it and discards
// the key. The plaintext key is never returned. An authentication failure is
// reported as ErrSecretIntegrity, logged as a security event, and must abort
// the enclosing operation; it is never treated as "key not found".
func (v *Vault) Sign(ctx context.Context, accountID uuid.UUID, payload []byte) ([]byte, error) {
	priv, err := v.open(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer zero(priv)
	return ed25519.Sign(priv, payload), nil
}

// SignerAddress derives the hex-encoded public key for an account's signing
// key. The private key is decrypted transiently and discarded.
func (v *Vault) SignerAddress(ctx context.Context, accountID uuid.UUID) (string, error) {
	priv, err := v.open(ctx, accountID)
	if err != nil {
		return "", err
	}
	defer zero(priv)
	pub := priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub), nil
}

func (v *Vault) open(ctx context.Context, accountID uuid.UUID) (ed25519.PrivateKey, error) {
	record, err := v.secrets.FindByAccountID(ctx, accountID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrSecretNotFound
		}
		return nil, fmt.Errorf("load wallet secret: %w", err)
	}
	if record.Algorithm != AlgorithmChaCha20Poly1305V1 {
		return nil, fmt.Errorf("unsupported wallet secret algorithm %q", record.Algorithm)
	}
	aead, err := chacha20poly1305.New(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plain, err := aead.Open(nil, record.Nonce, record.Ciphertext, accountID[:])
	if err != nil {
		v.log.WithFields(logrus.Fields{
			"event":      "secret_integrity_failure",
			"account_id": accountID,
			"secret_id":  record.ID,
		}).Error("wallet secret failed authentication")
		return nil, errors.ErrSecretIntegrity
	}
	if len(plain) != ed25519.PrivateKeySize {
		zero(plain)
		return nil, errors.ErrSecretIntegrity
	}
	return ed25519.PrivateKey(plain), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
