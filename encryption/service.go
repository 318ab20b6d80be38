package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"voting-ledger/models"
)

// KeySize is the length of ballot keys, the master key and the hash secret.
const KeySize = 32

var ErrDecrypt = errors.New("ciphertext authentication failed")

// CryptoService bundles the hashing, ballot encryption, key escrow and result
// signing primitives. It holds the process-wide secrets and is safe for
// concurrent use.
type CryptoService struct {
	masterKey  []byte
	hashSecret []byte
	signingKey *ecdsa.PrivateKey
}

func NewCryptoService(masterKey, hashSecret []byte, signingKey *ecdsa.PrivateKey) (*CryptoService, error) {
	if len(masterKey) != KeySize {
		return nil, errors.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	if len(hashSecret) == 0 {
		return nil, errors.New("hash secret must not be empty")
	}
	if signingKey == nil {
		return nil, errors.New("signing key is required")
	}
	return &CryptoService{
		masterKey:  masterKey,
		hashSecret: hashSecret,
		signingKey: signingKey,
	}, nil
}

// Keccak256 computes Keccak-256 hash
func (cs *CryptoService) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

func (cs *CryptoService) HashHex(data ...[]byte) string {
	return hex.EncodeToString(cs.Keccak256(data...))
}

// KeyedHash is HMAC-SHA3-256 of data under key, hex encoded.
func (cs *CryptoService) KeyedHash(key, data []byte) string {
	mac := hmac.New(sha3.New256, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Nullifier binds a voter commitment to an election. The same pair always
// yields the same value, so a second ballot from one voter collides.
func (cs *CryptoService) Nullifier(commitment, electionID string) string {
	return cs.KeyedHash([]byte(commitment), []byte(electionID))
}

// DeriveCommitment turns verified identity attributes into the opaque value
// the identity subsystem hands over at registration.
func (cs *CryptoService) DeriveCommitment(fields ...string) string {
	return cs.KeyedHash(cs.hashSecret, []byte(strings.Join(fields, "|")))
}

// RandomBytes reads n bytes from the system CSPRNG.
func (cs *CryptoService) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.Wrap(err, "failed to read random bytes")
	}
	return b, nil
}

// GenerateElectionKey creates a fresh ballot key and its public commitment.
func (cs *CryptoService) GenerateElectionKey() ([]byte, string, error) {
	key, err := cs.RandomBytes(KeySize)
	if err != nil {
		return nil, "", err
	}
	return key, cs.HashHex(key), nil
}

// EscrowKey seals a ballot key under a key derived from the master key for
// this election only.
func (cs *CryptoService) EscrowKey(electionID string, key []byte) (models.EncryptedBlob, error) {
	wrapKey, err := cs.escrowKey(electionID)
	if err != nil {
		return models.EncryptedBlob{}, err
	}
	return seal(wrapKey, key, []byte(electionID))
}

func (cs *CryptoService) OpenEscrow(electionID string, blob models.EncryptedBlob) ([]byte, error) {
	wrapKey, err := cs.escrowKey(electionID)
	if err != nil {
		return nil, err
	}
	key, err := open(wrapKey, blob, []byte(electionID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open key escrow")
	}
	if len(key) != KeySize {
		return nil, errors.Errorf("escrowed key has length %d", len(key))
	}
	return key, nil
}

func (cs *CryptoService) escrowKey(electionID string) ([]byte, error) {
	r := hkdf.New(sha256.New, cs.masterKey, []byte(electionID), []byte("ballot-key-escrow"))
	k := make([]byte, KeySize)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, errors.Wrap(err, "failed to derive escrow key")
	}
	return k, nil
}

// EncryptBallot seals the payload under the election's ballot key. The
// election id is authenticated so a ballot cannot be replayed elsewhere.
func (cs *CryptoService) EncryptBallot(key []byte, electionID string, payload *models.BallotPayload) (models.EncryptedBlob, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return models.EncryptedBlob{}, errors.Wrap(err, "failed to encode ballot")
	}
	return seal(key, plaintext, []byte(electionID))
}

func (cs *CryptoService) DecryptBallot(key []byte, electionID string, blob models.EncryptedBlob) (*models.BallotPayload, error) {
	plaintext, err := open(key, blob, []byte(electionID))
	if err != nil {
		return nil, err
	}
	var payload models.BallotPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode ballot")
	}
	return &payload, nil
}

// Sign creates a digital signature of data using the result signing key
func (cs *CryptoService) Sign(data []byte) ([]byte, error) {
	hash := cs.Keccak256(data)
	return crypto.Sign(hash, cs.signingKey)
}

// VerifySignature checks that signature over data was produced by address.
func (cs *CryptoService) VerifySignature(data, signature []byte, address string) bool {
	hash := cs.Keccak256(data)
	pub, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(crypto.PubkeyToAddress(*pub).Hex(), address)
}

func (cs *CryptoService) SignerAddress() string {
	return crypto.PubkeyToAddress(cs.signingKey.PublicKey).Hex()
}

// EncodeSignature renders a signature the way results store it.
func EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

func DecodeSignature(s string) ([]byte, error) {
	return hexutil.Decode(s)
}

func seal(key, plaintext, aad []byte) (models.EncryptedBlob, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return models.EncryptedBlob{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.EncryptedBlob{}, errors.Wrap(err, "failed to generate nonce")
	}

	return models.EncryptedBlob{
		IV:   hex.EncodeToString(nonce),
		Data: hex.EncodeToString(gcm.Seal(nil, nonce, plaintext, aad)),
	}, nil
}

func open(key []byte, blob models.EncryptedBlob, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := hex.DecodeString(blob.IV)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, errors.Wrap(ErrDecrypt, "malformed nonce")
	}
	ciphertext, err := hex.DecodeString(blob.Data)
	if err != nil {
		return nil, errors.Wrap(ErrDecrypt, "malformed ciphertext")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}
	return gcm, nil
}
