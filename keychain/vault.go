package keychain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
)

const (
	identityFileName = "identity.key"
	vaultFileName    = "vault.age"
)

// VaultStore keeps entries in a single age encrypted file. The X25519
// identity lives next to it with owner only permissions.
type VaultStore struct {
	mu       sync.Mutex
	dir      string
	identity *age.X25519Identity
}

// VaultOption configures a VaultStore
type VaultOption func(*VaultStore)

// WithIdentity uses identity instead of the one persisted in the vault dir
func WithIdentity(identity *age.X25519Identity) VaultOption {
	return func(v *VaultStore) {
		v.identity = identity
	}
}

// OpenVault opens the vault in dir, creating the directory and identity on
// first use.
func OpenVault(dir string, opts ...VaultOption) (*VaultStore, error) {
	v := &VaultStore{dir: dir}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, storageError(err, "open", "")
	}

	if v.identity == nil {
		identity, err := loadOrCreateIdentity(filepath.Join(dir, identityFileName))
		if err != nil {
			return nil, storageError(err, "open", "")
		}
		v.identity = identity
	}

	return v, nil
}

func loadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}

	if err := writeFileAtomic(path, []byte(identity.String()+"\n")); err != nil {
		return nil, err
	}

	return identity, nil
}

func (v *VaultStore) Save(ctx context.Context, key Key, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read()
	if err != nil {
		return storageError(err, "save", key)
	}

	delete(entries, key)
	entries[key] = secret

	return storageError(v.write(entries), "save", key)
}

func (v *VaultStore) Load(ctx context.Context, key Key) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read()
	if err != nil {
		return "", false, storageError(err, "load", key)
	}

	secret, ok := entries[key]
	return secret, ok, nil
}

func (v *VaultStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read()
	if err != nil {
		return storageError(err, "delete", key)
	}

	if _, ok := entries[key]; !ok {
		return nil
	}

	delete(entries, key)
	return storageError(v.write(entries), "delete", key)
}

// Recipient returns the public key entries are encrypted to
func (v *VaultStore) Recipient() string {
	return v.identity.Recipient().String()
}

func (v *VaultStore) vaultPath() string {
	return filepath.Join(v.dir, vaultFileName)
}

func (v *VaultStore) read() (map[Key]string, error) {
	entries := make(map[Key]string)

	ciphertext, err := os.ReadFile(v.vaultPath())
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading vault: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), v.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting vault: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted vault: %w", err)
	}

	if len(plaintext) == 0 {
		return entries, nil
	}

	if err := cbor.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("decoding vault: %w", err)
	}

	return entries, nil
}

func (v *VaultStore) write(entries map[Key]string) error {
	plaintext, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding vault: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, v.identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}

	return writeFileAtomic(v.vaultPath(), ciphertext.Bytes())
}

// writeFileAtomic replaces path with data through a synced temp file and a
// rename, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	return os.Rename(tmpName, path)
}

var _ Store = (*VaultStore)(nil)
