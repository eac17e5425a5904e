package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/aretw0/canopy/pkg/adapters/file"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/adapters/redis"
	"github.com/aretw0/canopy/pkg/adapters/sqlite"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/session"
)

// OpenSessions opens the configured run store and wraps it in a session
// manager. Redis stores also lock conversations across replicas.
// The returned func closes the store.
func (f *File) OpenSessions(logger *slog.Logger) (*session.Manager, func() error, error) {
	opts := []session.Option{session.WithLogger(logger)}
	var store ports.RunStore
	closer := func() error { return nil }

	switch kind := f.Store.Kind(); kind {
	case "memory":
		store = memory.NewStore()
	case "file":
		store = file.New(f.Store.URL)
	case "redis":
		var ropts []redis.Option
		if f.Store.TTL > 0 {
			ropts = append(ropts, redis.WithTTL(f.Store.TTL))
		}
		rs, err := redis.NewFromURL(f.Store.URL, ropts...)
		if err != nil {
			return nil, nil, err
		}
		store, closer = rs, rs.Close
		opts = append(opts, session.WithLocker(redis.NewLocker(rs.Client(), rs.Prefix())))
	case "sqlite":
		ss, err := sqlite.Open(f.Store.URL)
		if err != nil {
			return nil, nil, err
		}
		store, closer = ss, ss.Close
	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", kind)
	}

	mws, err := f.Store.middlewares()
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return session.NewManager(middleware.Chain(store, mws...), opts...), closer, nil
}

// middlewares masks before encrypting, so redacted values never reach the ciphertext.
func (s Store) middlewares() ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(s.Redact) > 0 {
		mw, err := middleware.NewPIIMiddleware(s.Redact)
		if err != nil {
			return nil, fmt.Errorf("store.redact: %w", err)
		}
		mws = append(mws, mw)
	}
	if s.EncryptionKey != "" {
		cfg := middleware.EncryptionConfig{}
		key, err := DecodeKey(s.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		cfg.ActiveKey = key
		for i, k := range s.FallbackKeys {
			fk, err := DecodeKey(k)
			if err != nil {
				return nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
			}
			cfg.FallbackKeys = append(cfg.FallbackKeys, fk)
		}
		mw, err := middleware.NewEncryptionMiddleware(cfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return mws, nil
}

// DecodeKey reads a 32-byte key written as hex or standard base64.
func DecodeKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, middleware.ErrInvalidKey
}
