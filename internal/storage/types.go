package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("storage: key not found")
	ErrClosed     = errors.New("storage: closed")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Config configures storage.
//
// Driver values: "memory" (also the default when empty), "file", "sqlite", "redis".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

// RedisConfig is used by the redis driver only.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

func validKey(key string) error {
	if key == "" || len(key) > 128 {
		return ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return ErrInvalidKey
		}
	}
	if key[0] == '.' {
		return ErrInvalidKey
	}
	return nil
}
