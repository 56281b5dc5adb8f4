// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/storage/api"
)

type TokenStore interface {
	TokenCreate(description string, expires time.Time, scopes []string, hashed string) (*api.Token, error)
	TokenLookup(hashed string) (*api.Token, error)
}

// Tokens issues and verifies API bearer tokens. Only an HMAC of each token is
// stored; the key is derived per token from the server secret.
type Tokens struct {
	secret []byte
	store  TokenStore
}

func NewTokens(secret []byte, store TokenStore) *Tokens {
	return &Tokens{secret: secret, store: store}
}

func (t Tokens) genTokenKey(token string) ([]byte, error) {
	if len(token) < 17 {
		return nil, fmt.Errorf("token too short to derive key")
	}
	salt := []byte(token[3:17])
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, t.secret, salt, nil), key); err != nil {
		return nil, fmt.Errorf("unable to derive encryption key for token: %w", err)
	}
	return key, nil
}

func (t Tokens) hash(token string) (string, error) {
	key, err := t.genTokenKey(token)
	if err != nil {
		return "", err
	}
	hasher := hmac.New(sha256.New, key)
	if _, err := hasher.Write([]byte(token)); err != nil {
		return "", fmt.Errorf("unable to hash token value: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// Generate creates a token. The returned value is shown once and never stored.
func (t Tokens) Generate(description string, expires time.Time, scopes []string) (string, *api.Token, error) {
	for _, s := range scopes {
		if !slices.Contains(AllScopes, s) {
			return "", nil, fmt.Errorf("unknown scope %q, valid scopes: %s", s, strings.Join(AllScopes, ", "))
		}
	}
	value := rand.Text()
	hashed, err := t.hash(value)
	if err != nil {
		return "", nil, err
	}
	tok, err := t.store.TokenCreate(description, expires, scopes, hashed)
	if err != nil {
		return "", nil, err
	}
	return value, tok, nil
}

// Lookup returns the user of an unexpired token, or nil.
func (t Tokens) Lookup(value string) (User, error) {
	hashed, err := t.hash(value)
	if err != nil {
		return nil, nil
	}
	tok, err := t.store.TokenLookup(hashed)
	if err != nil || tok == nil {
		return nil, err
	}
	return &tokenUser{id: "token-" + strconv.FormatInt(tok.PublicId, 10), scopes: tok.Scopes}, nil
}

// AuthUser authenticates `Authorization: Bearer <token>` requests.
func (t Tokens) AuthUser(w http.ResponseWriter, r *http.Request) (User, error) {
	value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || value == "" {
		return nil, unauthorized(w, "missing bearer token")
	}
	user, err := t.Lookup(value)
	if err != nil {
		context.CtxGetLog(r.Context()).Error("token lookup failed", "error", err)
		return nil, unauthorized(w, "unable to verify token")
	} else if user == nil {
		return nil, unauthorized(w, "invalid or expired token")
	}
	return user, nil
}

func unauthorized(w http.ResponseWriter, msg string) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	return json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}

type tokenUser struct {
	id     string
	scopes []string
}

func (u tokenUser) Id() string {
	return u.id
}

func (u tokenUser) HasScope(scope Scope) error {
	for _, s := range scope {
		if slices.Contains(u.scopes, s) {
			return nil
		}
	}
	return fmt.Errorf("token lacks any of the scopes: %s", strings.Join(scope, ", "))
}
