// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	atomicFile "github.com/natefinch/atomic"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/anonvpn/common"
)

// DefaultService is the identifier used in the system keyring.
const DefaultService = common.ConfigDirName

// Options configures a Keyring.
type Options struct {
	// Service names the keyring collection.
	Service string
	// Dir holds the encrypted fallback file.
	Dir string
	// FileOnly skips the system keyring.
	FileOnly bool
	// Logger defaults to a no-op logger.
	Logger common.Logger
}

// Keyring stores secrets in the system keyring or an encrypted file.
type Keyring struct {
	service string
	log     common.Logger

	mu      sync.RWMutex
	local   bool
	file    string
	key     []byte
	entries map[string]string
}

var _ common.CredentialStore = (*Keyring)(nil)

// New tries the system keyring and falls back to the encrypted file when
// it cannot be used.
func New(opts Options) *Keyring {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Logger == nil {
		opts.Logger = common.NopLogger{}
	}
	k := &Keyring{
		service: opts.Service,
		log:     opts.Logger,
		file:    filepath.Join(opts.Dir, common.CredentialsFileName),
	}

	if opts.FileOnly {
		k.useLocal()
		return k
	}

	check := opts.Service + "-check"
	if err := keyring.Set(opts.Service, check, "check"); err != nil {
		k.log.Debug("System keyring unavailable, using %s: %v", k.file, err)
		k.useLocal()
		return k
	}
	_ = keyring.Delete(opts.Service, check)
	return k
}

// IsLocal reports whether the encrypted file backend is in use.
func (k *Keyring) IsLocal() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.local
}

func (k *Keyring) useLocal() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.local {
		return
	}
	k.local = true
	k.key = deriveKey(k.service)
	k.entries = make(map[string]string)
	k.loadLocal()
}

// deriveKey binds the file key to this machine and user.
func deriveKey(service string) []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", service, machineID(), common.InvokingUID())
	r := hkdf.New(sha256.New, []byte(secret), []byte(hostname), []byte("anonvpn credential file"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails after 255 blocks of output.
		panic(err)
	}
	return key
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (k *Keyring) loadLocal() {
	data, err := os.ReadFile(k.file)
	if err != nil {
		return
	}
	plain, err := k.decrypt(data)
	if err != nil {
		k.log.Warn("Ignoring unreadable credential file %s: %v", k.file, err)
		return
	}
	if err := json.Unmarshal(plain, &k.entries); err != nil {
		k.log.Warn("Ignoring malformed credential file %s: %v", k.file, err)
		k.entries = make(map[string]string)
	}
}

// saveLocal must be called with k.mu held.
func (k *Keyring) saveLocal() error {
	data, err := json.Marshal(k.entries)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	encrypted, err := k.encrypt(data)
	if err != nil {
		return err
	}
	if err := common.EnsurePrivateDir(filepath.Dir(k.file)); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	if err := atomicFile.WriteFile(k.file, bytes.NewReader(encrypted)); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	if err := os.Chmod(k.file, 0600); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	if err := common.ChownToInvoker(k.file); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	return nil
}

func (k *Keyring) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := k.cipher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (k *Keyring) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}
	gcm, err := k.cipher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}
	return plain, nil
}

func (k *Keyring) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Store saves a secret for account.
func (k *Keyring) Store(account, secret string) error {
	if account == "" {
		return fmt.Errorf("%w: account cannot be empty", common.ErrCredentialStorage)
	}
	if secret == "" {
		return fmt.Errorf("%w: secret cannot be empty", common.ErrCredentialStorage)
	}

	if !k.IsLocal() {
		err := keyring.Set(k.service, account, secret)
		if err == nil {
			return nil
		}
		k.log.Warn("System keyring write failed, falling back to %s: %v", k.file, err)
		k.useLocal()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[account] = secret
	return k.saveLocal()
}

// Get retrieves the secret for account.
func (k *Keyring) Get(account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("%w: account cannot be empty", common.ErrCredentialsNotFound)
	}

	if !k.IsLocal() {
		secret, err := keyring.Get(k.service, account)
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", common.ErrCredentialsNotFound
		}
		return "", fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	secret, ok := k.entries[account]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return secret, nil
}

// Delete removes the secret for account. Deleting a missing account is
// not an error.
func (k *Keyring) Delete(account string) error {
	if account == "" {
		return fmt.Errorf("%w: account cannot be empty", common.ErrCredentialStorage)
	}

	if !k.IsLocal() {
		err := keyring.Delete(k.service, account)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
		}
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.entries[account]; !ok {
		return nil
	}
	delete(k.entries, account)
	return k.saveLocal()
}

// Exists checks if a secret is stored for account.
func (k *Keyring) Exists(account string) bool {
	_, err := k.Get(account)
	return err == nil
}
