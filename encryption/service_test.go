package encryption

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/models"
)

func newTestCrypto(t *testing.T) *CryptoService {
	t.Helper()
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	master := make([]byte, KeySize)
	for i := range master {
		master[i] = byte(i)
	}
	cs, err := NewCryptoService(master, []byte("hash-secret"), signer)
	require.NoError(t, err)
	return cs
}

func TestNullifierDeterministic(t *testing.T) {
	cs := newTestCrypto(t)

	a := cs.Nullifier("commitment-1", "election-1")
	assert.Equal(t, a, cs.Nullifier("commitment-1", "election-1"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, cs.Nullifier("commitment-2", "election-1"))
	assert.NotEqual(t, a, cs.Nullifier("commitment-1", "election-2"))
}

func TestDeriveCommitment(t *testing.T) {
	cs := newTestCrypto(t)
	c := cs.DeriveCommitment("ABC1234", "1990-01-01")
	assert.Equal(t, c, cs.DeriveCommitment("ABC1234", "1990-01-01"))
	assert.NotEqual(t, c, cs.DeriveCommitment("ABC1235", "1990-01-01"))
}

func TestBallotRoundTrip(t *testing.T) {
	cs := newTestCrypto(t)
	key, keyHash, err := cs.GenerateElectionKey()
	require.NoError(t, err)
	assert.Equal(t, cs.HashHex(key), keyHash)

	payload := &models.BallotPayload{CandidateID: "c1", ElectionID: "e1", SessionID: "s1", Timestamp: 42}
	blob, err := cs.EncryptBallot(key, "e1", payload)
	require.NoError(t, err)

	other, err := cs.EncryptBallot(key, "e1", payload)
	require.NoError(t, err)
	assert.NotEqual(t, blob.Data, other.Data, "nonce must differ per ballot")

	got, err := cs.DecryptBallot(key, "e1", blob)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBallotBoundToElection(t *testing.T) {
	cs := newTestCrypto(t)
	key, _, err := cs.GenerateElectionKey()
	require.NoError(t, err)

	blob, err := cs.EncryptBallot(key, "e1", &models.BallotPayload{CandidateID: "c1"})
	require.NoError(t, err)

	_, err = cs.DecryptBallot(key, "e2", blob)
	assert.True(t, errors.Is(err, ErrDecrypt))

	tampered := blob
	tampered.Data = "00" + blob.Data[2:]
	if tampered.Data == blob.Data {
		tampered.Data = "ff" + blob.Data[2:]
	}
	_, err = cs.DecryptBallot(key, "e1", tampered)
	assert.True(t, errors.Is(err, ErrDecrypt))
}

func TestEscrowRoundTrip(t *testing.T) {
	cs := newTestCrypto(t)
	key, _, err := cs.GenerateElectionKey()
	require.NoError(t, err)

	blob, err := cs.EscrowKey("e1", key)
	require.NoError(t, err)

	opened, err := cs.OpenEscrow("e1", blob)
	require.NoError(t, err)
	assert.Equal(t, key, opened)

	_, err = cs.OpenEscrow("e2", blob)
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	cs := newTestCrypto(t)
	data := []byte(`{"election_id":"e1"}`)

	sig, err := cs.Sign(data)
	require.NoError(t, err)
	assert.True(t, cs.VerifySignature(data, sig, cs.SignerAddress()))
	assert.False(t, cs.VerifySignature([]byte("other"), sig, cs.SignerAddress()))

	decoded, err := DecodeSignature(EncodeSignature(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)
}

func TestLoadOrGenerateSigningKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signer.json")

	first, err := LoadOrGenerateSigningKey(path)
	require.NoError(t, err)
	second, err := LoadOrGenerateSigningKey(path)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(first), crypto.FromECDSA(second))
}

func TestLoadOrGenerateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")

	first, err := LoadOrGenerateSecret(path)
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	second, err := LoadOrGenerateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewCryptoServiceValidatesInputs(t *testing.T) {
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewCryptoService([]byte("short"), []byte("s"), signer)
	assert.Error(t, err)
	_, err = NewCryptoService(make([]byte, KeySize), nil, signer)
	assert.Error(t, err)
	_, err = NewCryptoService(make([]byte, KeySize), []byte("s"), nil)
	assert.Error(t, err)
}
