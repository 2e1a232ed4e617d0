// Package keys loads and caches the RSA key material the gateway signs and
// verifies tokens with. Client applications register a public key named
// <app_id>_public_key.pem in the configured directory; the server keeps its
// own key pair for the verification tokens it issues.
package keys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"crypto/rsa"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrPublicKeyNotFound is returned when no public key exists for an app id.
	ErrPublicKeyNotFound = errors.New("public key not found")
	// ErrPrivateKeyNotFound is returned when the server private key is missing.
	ErrPrivateKeyNotFound = errors.New("private key not found")
	// ErrInvalidAppID is returned for app ids that could escape the key directory.
	ErrInvalidAppID = errors.New("invalid app id")
)

var appIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Store resolves client public keys by app id and holds the server key pair.
// Client keys are cached after first load; Reload drops the cache so rotated
// keys are picked up without a restart.
type Store struct {
	clientDir     string
	serverPrivate *rsa.PrivateKey
	serverPublic  *rsa.PublicKey

	mu    sync.RWMutex
	cache map[string]*rsa.PublicKey
}

// NewStore loads the server key pair and prepares the client key cache.
// Missing or unparsable server keys are returned as errors so the caller can
// fail fast before binding the listener.
func NewStore(clientDir, serverPrivatePath, serverPublicPath string) (*Store, error) {
	if info, err := os.Stat(clientDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("client keys directory %q is not usable: %w", clientDir, ErrPublicKeyNotFound)
	}

	privPEM, err := os.ReadFile(serverPrivatePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", serverPrivatePath, ErrPrivateKeyNotFound)
	}
	private, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing server private key: %w", err)
	}

	pubPEM, err := os.ReadFile(serverPublicPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", serverPublicPath, ErrPublicKeyNotFound)
	}
	public, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing server public key: %w", err)
	}

	return &Store{
		clientDir:     clientDir,
		serverPrivate: private,
		serverPublic:  public,
		cache:         make(map[string]*rsa.PublicKey),
	}, nil
}

// ServerPrivateKey returns the key used to sign verification tokens.
func (s *Store) ServerPrivateKey() *rsa.PrivateKey {
	return s.serverPrivate
}

// ServerPublicKey returns the key used to verify tokens the server issued.
func (s *Store) ServerPublicKey() *rsa.PublicKey {
	return s.serverPublic
}

// ClientPublicKey returns the public key registered for appID, loading
// <appID>_public_key.pem from the key directory on first use.
func (s *Store) ClientPublicKey(appID string) (*rsa.PublicKey, error) {
	if !appIDRe.MatchString(appID) {
		return nil, fmt.Errorf("app id %q: %w", appID, ErrInvalidAppID)
	}

	s.mu.RLock()
	if key, ok := s.cache[appID]; ok {
		s.mu.RUnlock()
		return key, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.clientDir, appID+"_public_key.pem")
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no public key for app_id %s: %w", appID, ErrPublicKeyNotFound)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key for app_id %s: %w", appID, err)
	}

	s.mu.Lock()
	s.cache[appID] = key
	s.mu.Unlock()
	return key, nil
}

// Reload drops the client key cache. The next lookup for each app id reads
// from disk again.
func (s *Store) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]*rsa.PublicKey)
	s.mu.Unlock()
}
