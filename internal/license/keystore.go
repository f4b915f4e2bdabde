package license

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	licerrors "licctl/internal/errors"
)

const rsaKeyBits = 2048

// KeyPair holds both halves of the signing key.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// KeyStore persists the signing key pair in a directory. The directory
// is an explicit constructor argument, never a hidden global, so tests
// can point each case at an isolated temporary store.
type KeyStore struct {
	dir         string
	privatePath string
	publicPath  string
	logger      *slog.Logger
}

// NewKeyStore creates a key store rooted at dir.
func NewKeyStore(dir string, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyStore{
		dir:         dir,
		privatePath: filepath.Join(dir, "private_key.pem"),
		publicPath:  filepath.Join(dir, "public_key.pem"),
		logger:      logger.With(slog.String("component", "keystore")),
	}
}

// PrivateKeyPath returns the private key location.
func (s *KeyStore) PrivateKeyPath() string { return s.privatePath }

// PublicKeyPath returns the public key location.
func (s *KeyStore) PublicKeyPath() string { return s.publicPath }

// Initialize generates and persists a fresh RSA-2048 pair. If a pair
// already exists and force is false, the existing pair is returned
// together with ErrAlreadyInitialized; the files are never overwritten.
// With force, the pair is regenerated unconditionally, which
// invalidates every previously issued license.
func (s *KeyStore) Initialize(force bool) (*KeyPair, error) {
	if _, err := os.Stat(s.privatePath); err == nil && !force {
		pair, loadErr := s.loadPair()
		if loadErr != nil {
			return nil, loadErr
		}
		return pair, licerrors.AlreadyInitialized(s.privatePath)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, licerrors.IO("create keys directory", err)
	}

	s.logger.Info("generating RSA key pair", slog.Int("bits", rsaKeyBits), slog.Bool("force", force))
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})

	publicDER, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	// Atomic replace: a concurrent reader never observes a partially
	// written key, and a crash mid-init leaves the old pair intact.
	if err := writeFileAtomic(s.privatePath, privatePEM, 0o600); err != nil {
		return nil, licerrors.IO("write private key", err)
	}
	if err := writeFileAtomic(s.publicPath, publicPEM, 0o644); err != nil {
		return nil, licerrors.IO("write public key", err)
	}

	s.logger.Info("key pair written",
		slog.String("private_key", s.privatePath),
		slog.String("public_key", s.publicPath))
	return &KeyPair{Private: private, Public: &private.PublicKey}, nil
}

// LoadPrivateKey loads the signing key. Fails with ErrKeyNotFound when
// Initialize has never run.
func (s *KeyStore) LoadPrivateKey() (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(s.privatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, licerrors.KeyNotFound(s.privatePath)
		}
		return nil, licerrors.IO("read private key", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key %s is not valid PEM", s.privatePath)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s is not an RSA key", s.privatePath)
	}
	return rsaKey, nil
}

// LoadPublicKey loads the verification key. It never touches the
// private key file: client-side verification only ships the public
// half.
func (s *KeyStore) LoadPublicKey() (*rsa.PublicKey, error) {
	data, err := os.ReadFile(s.publicPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, licerrors.KeyNotFound(s.publicPath)
		}
		return nil, licerrors.IO("read public key", err)
	}
	return ParsePublicKeyPEM(data)
}

// PublicKeyPEM returns the distributable public key text, as emitted
// on init and by show-public-key.
func (s *KeyStore) PublicKeyPEM() (string, error) {
	data, err := os.ReadFile(s.publicPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", licerrors.KeyNotFound(s.publicPath)
		}
		return "", licerrors.IO("read public key", err)
	}
	return string(data), nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key, e.g. one
// embedded verbatim in client configuration.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("public key is not valid PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an RSA key")
	}
	return rsaKey, nil
}

func (s *KeyStore) loadPair() (*KeyPair, error) {
	private, err := s.LoadPrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: private, Public: &private.PublicKey}, nil
}

// writeFileAtomic writes data to a temporary file in the target
// directory and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
