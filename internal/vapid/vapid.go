// Package vapid supplies the key pair that identifies this server to push services.
package vapid

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"webchat-push-bot/config"
)

// ErrMalformedKeyFile is returned when the key file exists but cannot be used.
var ErrMalformedKeyFile = errors.New("malformed vapid key file")

// Keys is the VAPID key pair, stored on disk as {"publicKey": ..., "privateKey": ...}.
type Keys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Resolve returns the configured keys, or loads them from cfg.KeyFile, generating and
// persisting a new pair when the file does not exist.
func Resolve(cfg config.PushConfig, log zerolog.Logger) (Keys, error) {
	if cfg.PublicKey != "" && cfg.PrivateKey != "" {
		return Keys{PublicKey: cfg.PublicKey, PrivateKey: cfg.PrivateKey}, nil
	}
	if cfg.PublicKey != "" || cfg.PrivateKey != "" {
		return Keys{}, errors.New("vapid_public_key and vapid_private_key must be set together")
	}

	keys, err := Load(cfg.KeyFile)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Keys{}, err
	}

	keys, err = Generate()
	if err != nil {
		return Keys{}, err
	}
	if err := Save(cfg.KeyFile, keys); err != nil {
		return Keys{}, err
	}
	log.Warn().
		Str("file", cfg.KeyFile).
		Str("public_key", keys.PublicKey).
		Msg("no vapid key file found, generated a new key pair; copy the public key into the web client")
	return keys, nil
}

// Load reads a key file.
func Load(path string) (Keys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keys{}, err
	}
	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return Keys{}, fmt.Errorf("%w %s: %v", ErrMalformedKeyFile, path, err)
	}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		return Keys{}, fmt.Errorf("%w %s: missing publicKey or privateKey", ErrMalformedKeyFile, path)
	}
	return keys, nil
}

// Save writes keys to path, readable only by the owner.
func Save(path string, keys Keys) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write vapid key file: %w", err)
	}
	return nil
}

// Generate creates a fresh key pair.
func Generate() (Keys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return Keys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return Keys{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// Options builds the webpush options shared by every delivery.
func Options(keys Keys, cfg config.PushConfig) *webpush.Options {
	return &webpush.Options{
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		Subscriber:      cfg.Subject,
		TTL:             cfg.TTL,
	}
}
