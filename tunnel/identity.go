// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/sys/unix"
)

// SecretKeySize is the length of a persisted secret key: an Ed25519
// seed.
const SecretKeySize = ed25519.SeedSize

// secretKeyFileName is the key file inside the data directory.
const secretKeyFileName = "tunnel_secret_key"

// lockFileName is the advisory lock file inside the data directory.
const lockFileName = "tunnel.lock"

// SecretKey is the endpoint's long-term identity. The public node
// identifier is derived from it deterministically, so a key loaded
// from disk always yields the same peer ID.
type SecretKey struct {
	seed [SecretKeySize]byte
}

// GenerateSecretKey returns a fresh key from crypto/rand.
func GenerateSecretKey() (SecretKey, error) {
	var key SecretKey
	if _, err := rand.Read(key.seed[:]); err != nil {
		return SecretKey{}, fmt.Errorf("generating secret key: %w", err)
	}
	return key, nil
}

// SecretKeyFromBytes wraps an existing 32-byte seed.
func SecretKeyFromBytes(data []byte) (SecretKey, error) {
	if len(data) != SecretKeySize {
		return SecretKey{}, fmt.Errorf("%w: key is %d bytes, want %d", ErrCorruptIdentity, len(data), SecretKeySize)
	}
	var key SecretKey
	copy(key.seed[:], data)
	return key, nil
}

// Bytes returns a copy of the raw seed.
func (k SecretKey) Bytes() []byte {
	out := make([]byte, SecretKeySize)
	copy(out, k.seed[:])
	return out
}

// PrivateKey returns the libp2p form of the key.
func (k SecretKey) PrivateKey() (crypto.PrivKey, error) {
	return crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(k.seed[:]))
}

// PeerID returns the public node identifier derived from the key.
func (k SecretKey) PeerID() (peer.ID, error) {
	privateKey, err := k.PrivateKey()
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(privateKey)
}

// String never prints key material.
func (k SecretKey) String() string { return "SecretKey(redacted)" }

// SecretKeyPath returns where the secret key lives under dataDirectory.
func SecretKeyPath(dataDirectory string) string {
	return filepath.Join(dataDirectory, secretKeyFileName)
}

// LoadOrCreateSecretKey reads the key persisted under dataDirectory,
// or generates and persists a new one if none exists.
//
// A key file of any length other than SecretKeySize fails with
// ErrCorruptIdentity and is never overwritten. Filesystem failures are
// returned as *IOError naming the failed step.
func LoadOrCreateSecretKey(dataDirectory string) (SecretKey, error) {
	keyPath := SecretKeyPath(dataDirectory)

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(data) != SecretKeySize {
			return SecretKey{}, fmt.Errorf("%w: %s is %d bytes, want %d", ErrCorruptIdentity, keyPath, len(data), SecretKeySize)
		}
		return SecretKeyFromBytes(data)
	case errors.Is(err, fs.ErrNotExist):
		// Fall through to generation.
	default:
		return SecretKey{}, &IOError{Op: "read", Path: keyPath, Err: err}
	}

	key, err := GenerateSecretKey()
	if err != nil {
		return SecretKey{}, err
	}
	if err := os.MkdirAll(dataDirectory, 0o700); err != nil {
		return SecretKey{}, &IOError{Op: "mkdir", Path: dataDirectory, Err: err}
	}
	if err := writeFileAtomic(keyPath, key.seed[:]); err != nil {
		return SecretKey{}, &IOError{Op: "write", Path: keyPath, Err: err}
	}
	return key, nil
}

// writeFileAtomic writes data to a temporary file in the target's
// directory and renames it into place, so a crash never leaves a
// truncated key behind (which would then be rejected as corrupt
// forever).
func writeFileAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return err
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return err
	}
	if err := temporary.Close(); err != nil {
		return err
	}
	return os.Rename(temporaryPath, path)
}

// DirectoryLock is an exclusive advisory lock on a data directory. Two
// bridges sharing one identity would publish the same node ID from two
// places, so Start takes this lock before loading the key.
type DirectoryLock struct {
	mu   sync.Mutex
	file *os.File
}

// LockDataDirectory creates dataDirectory if needed and takes an
// exclusive, non-blocking flock on its lock file. A directory already
// held by another bridge (in this process or another) fails with an
// *IOError whose Op is "lock".
func LockDataDirectory(dataDirectory string) (*DirectoryLock, error) {
	if err := os.MkdirAll(dataDirectory, 0o700); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dataDirectory, Err: err}
	}

	lockPath := filepath.Join(dataDirectory, lockFileName)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, &IOError{Op: "lock", Path: lockPath, Err: err}
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			err = fmt.Errorf("data directory is in use by another bridge: %w", err)
		}
		return nil, &IOError{Op: "lock", Path: lockPath, Err: err}
	}

	return &DirectoryLock{file: file}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *DirectoryLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	unlockError := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeError := l.file.Close()
	l.file = nil
	if unlockError != nil {
		return fmt.Errorf("releasing data directory lock: %w", unlockError)
	}
	return closeError
}
