// Package auth guards the HTTP API with a single bcrypt-hashed API key.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lizhenmiao/shopify-translation/internal/db"
)

// SettingKeyHash is the settings row holding the API key hash.
const SettingKeyHash = "api_key_hash"

const bcryptCost = 12

// A client is refused after maxFailedAttempts bad keys within blockMinutes.
const (
	maxFailedAttempts = 10
	blockMinutes      = 15
)

// HashKey hashes a plain-text API key using bcrypt cost 12.
func HashKey(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth.HashKey: %w", err)
	}
	return string(b), nil
}

// CheckKey compares plain text against a bcrypt hash.
func CheckKey(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth.GenerateKey: %w", err)
	}
	return "st_" + hex.EncodeToString(b), nil
}

// SetKey stores the hash of plain, replacing any previous key.
func SetKey(database *db.DB, plain string) error {
	hash, err := HashKey(plain)
	if err != nil {
		return err
	}
	if err := database.SetSetting(SettingKeyHash, hash); err != nil {
		return fmt.Errorf("auth.SetKey: %w", err)
	}
	return nil
}

// Bootstrap stores plain as the API key when it is set and differs from the
// stored one. An empty plain leaves the stored key untouched.
func Bootstrap(database *db.DB, plain string) error {
	if plain == "" {
		return nil
	}
	hash, err := database.GetSetting(SettingKeyHash)
	if err != nil {
		return fmt.Errorf("auth.Bootstrap: %w", err)
	}
	if hash != "" && CheckKey(plain, hash) {
		return nil
	}
	if err := SetKey(database, plain); err != nil {
		return fmt.Errorf("auth.Bootstrap: %w", err)
	}
	log.Printf("auth: API key installed from environment")
	return nil
}

// KeyFromRequest extracts the key from "Authorization: Bearer" or X-API-Key.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// RequireAPIKey is middleware that validates the request's API key against
// the stored hash. Without a stored hash the API is open.
func RequireAPIKey(database *db.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash, err := database.GetSetting(SettingKeyHash)
		if err != nil {
			log.Printf("auth: read key hash: %v", err)
			http.Error(w, `{"success":false,"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := clientIP(r)
		blocked, err := IsBlocked(ctx, database, ip, maxFailedAttempts, blockMinutes)
		if err != nil {
			log.Printf("auth: %v", err)
		}
		if blocked {
			http.Error(w, `{"success":false,"error":"too many failed attempts"}`, http.StatusTooManyRequests)
			return
		}

		key := KeyFromRequest(r)
		if key == "" || !CheckKey(key, hash) {
			if err := TrackAttempt(ctx, database, ip, false); err != nil {
				log.Printf("auth: %v", err)
			}
			http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
