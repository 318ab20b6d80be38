package encryption

import (
	"crypto/ecdsa"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SignerCredentials is the on-disk form of the result signing key.
type SignerCredentials struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// LoadOrGenerateSigningKey restores the result signing key from path, or
// creates one with owner-only permissions when the file does not exist.
func LoadOrGenerateSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		var creds SignerCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, errors.Wrap(err, "failed to parse signer credentials")
		}

		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(creds.PrivateKey, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to restore signing key")
		}
		logrus.WithField("address", crypto.PubkeyToAddress(privateKey.PublicKey).Hex()).Info("loaded result signing key")
		return privateKey, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read signer credentials")
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate signing key")
	}

	creds := SignerCredentials{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode signer credentials")
	}
	if err := writeSecretFile(path, data); err != nil {
		return nil, err
	}

	logrus.WithField("address", creds.Address).Info("generated new result signing key")
	return privateKey, nil
}

// LoadOrGenerateSecret reads a hex encoded secret from path, generating and
// persisting KeySize random bytes when the file is missing.
func LoadOrGenerateSecret(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return ParseHexKey(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read secret %s", path)
	}

	secret, err := (&CryptoService{}).RandomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	if err := writeSecretFile(path, []byte(hexutil.Encode(secret))); err != nil {
		return nil, err
	}
	logrus.WithField("path", path).Info("generated new secret")
	return secret, nil
}

// ParseHexKey decodes a KeySize hex string with or without the 0x prefix.
func ParseHexKey(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	key, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex key")
	}
	if len(key) != KeySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

func writeSecretFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "failed to create key directory")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
