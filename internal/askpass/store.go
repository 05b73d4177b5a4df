package askpass

import (
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "consolle"

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

func open() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,
				keyring.SecretServiceBackend,
				keyring.WinCredBackend,
				keyring.PassBackend,
			},
		})
	})
	return ring, ringErr
}

// SetPassword caches a passphrase for target in the OS keyring.
func SetPassword(target, password string) error {
	kr, err := open()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	return kr.Set(keyring.Item{Key: target, Data: []byte(password)})
}

// GetPassword retrieves the cached passphrase for target, returning an
// empty string (no error) if nothing is cached.
func GetPassword(target string) (string, error) {
	kr, err := open()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}
	item, err := kr.Get(target)
	if err == keyring.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve cached passphrase: %w", err)
	}
	return string(item.Data), nil
}

// DeletePassword removes a cached passphrase for target, if any.
func DeletePassword(target string) error {
	kr, err := open()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	err = kr.Remove(target)
	if err == keyring.ErrKeyNotFound {
		return nil
	}
	return err
}

// HasPassword reports whether a passphrase is cached for target.
func HasPassword(target string) bool {
	kr, err := open()
	if err != nil {
		return false
	}
	_, err = kr.Get(target)
	return err == nil
}
