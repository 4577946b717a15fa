package vault

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tapcore/internal/errors"
	"tapcore/internal/model"
)

// memSecretRepo is an in-memory WalletSecretRepository.
type memSecretRepo struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]*model.WalletSecret
}

func newMemSecretRepo() *memSecretRepo {
	return &memSecretRepo{secrets: make(map[uuid.UUID]*model.WalletSecret)}
}

func (r *memSecretRepo) Create(ctx context.Context, secret *model.WalletSecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if secret.ID == uuid.Nil {
		secret.ID = uuid.New()
	}
	stored := *secret
	r.secrets[secret.AccountID] = &stored
	return nil
}

func (r *memSecretRepo) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*model.WalletSecret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	secret, ok := r.secrets[accountID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *secret
	copied.Ciphertext = append([]byte(nil), secret.Ciphertext...)
	copied.Nonce = append([]byte(nil), secret.Nonce...)
	return &copied, nil
}

func newTestVault(t *testing.T) (*Vault, *memSecretRepo) {
	t.Helper()
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)
	repo := newMemSecretRepo()
	log := logrus.New()
	v, err := New(repo, masterKey, log)
	require.NoError(t, err)
	return v, repo
}

func TestVault_New_RejectsBadMasterKey(t *testing.T) {
	repo := newMemSecretRepo()
	_, err := New(repo, []byte("short"), logrus.New())
	assert.Error(t, err)
}

func TestVault_SignRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	accountID := uuid.New()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), accountID, priv))

	payload := []byte("transfer payload")
	signature, err := v.Sign(context.Background(), accountID, payload)
	require.NoError(t, err)

	assert.True(t, ed25519.Verify(pub, payload, signature))
	// Signature output must not embed the private key.
	assert.NotContains(t, string(signature), string(priv.Seed()))
	assert.Len(t, signature, ed25519.SignatureSize)
}

func TestVault_SignerAddress(t *testing.T) {
	v, _ := newTestVault(t)
	accountID := uuid.New()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), accountID, priv))

	address, err := v.SignerAddress(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(pub), address)
}

func TestVault_FreshNoncePerEncryption(t *testing.T) {
	v, _ := newTestVault(t)
	accountID := uuid.New()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	first, err := v.Encrypt(accountID, priv)
	require.NoError(t, err)
	second, err := v.Encrypt(accountID, priv)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first.Nonce, second.Nonce))
	assert.False(t, bytes.Equal(first.Ciphertext, second.Ciphertext))
	assert.Equal(t, AlgorithmChaCha20Poly1305V1, first.Algorithm)
}

func TestVault_CorruptedCiphertextFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(secret *model.WalletSecret)
	}{
		{
			name: "ciphertext byte flipped",
			corrupt: func(secret *model.WalletSecret) {
				secret.Ciphertext[0] ^= 0x01
			},
		},
		{
			name: "auth tag byte flipped",
			corrupt: func(secret *model.WalletSecret) {
				secret.Ciphertext[len(secret.Ciphertext)-1] ^= 0x01
			},
		},
		{
			name: "nonce byte flipped",
			corrupt: func(secret *model.WalletSecret) {
				secret.Nonce[0] ^= 0x01
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, repo := newTestVault(t)
			accountID := uuid.New()
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			require.NoError(t, err)
			require.NoError(t, v.Store(context.Background(), accountID, priv))

			repo.mu.Lock()
			tt.corrupt(repo.secrets[accountID])
			repo.mu.Unlock()

			_, err = v.Sign(context.Background(), accountID, []byte("payload"))
			assert.ErrorIs(t, err, errors.ErrSecretIntegrity)
			assert.NotErrorIs(t, err, errors.ErrSecretNotFound)
		})
	}
}

func TestVault_CiphertextBoundToAccount(t *testing.T) {
	v, repo := newTestVault(t)
	accountA := uuid.New()
	accountB := uuid.New()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), accountA, priv))

	// Re-home the ciphertext under another account: authentication must fail.
	repo.mu.Lock()
	stolen := *repo.secrets[accountA]
	stolen.AccountID = accountB
	repo.secrets[accountB] = &stolen
	repo.mu.Unlock()

	_, err = v.Sign(context.Background(), accountB, []byte("payload"))
	assert.ErrorIs(t, err, errors.ErrSecretIntegrity)
}

func TestVault_MissingSecret(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Sign(context.Background(), uuid.New(), []byte("payload"))
	assert.ErrorIs(t, err, errors.ErrSecretNotFound)
}

func TestVault_UnknownAlgorithmRejected(t *testing.T) {
	v, repo := newTestVault(t)
	accountID := uuid.New()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), accountID, priv))

	repo.mu.Lock()
	repo.secrets[accountID].Algorithm = "aes-gcm/v0"
	repo.mu.Unlock()

	_, err = v.Sign(context.Background(), accountID, []byte("payload"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrSecretNotFound)
}
