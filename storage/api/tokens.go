// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"time"
)

type Token struct {
	PublicId    int64    `json:"id"`
	Description string   `json:"description"`
	CreatedAt   int64    `json:"created-at"`
	ExpiresAt   int64    `json:"expires-at"`
	Scopes      []string `json:"scopes"`
}

type tokenRow struct {
	Token
	Value string
}

func (s *Storage) initTokenStmts() {
	s.stmtTokenCreate = stmtQuery[int64]{name: "apiTokenCreate", query: `
		INSERT INTO tokens (description, created_at, expires_at, scopes, value)
		VALUES (?, ?, ?, ?, ?) RETURNING public_id`,
		scan: func(row rowScanner) (id int64, err error) {
			err = row.Scan(&id)
			return
		},
	}
	s.stmtTokenLookup = stmtQuery[tokenRow]{name: "apiTokenLookup", query: `
		SELECT public_id, description, created_at, expires_at, scopes, value FROM tokens WHERE value = ?`,
		scan: func(row rowScanner) (t tokenRow, err error) {
			var scopes string
			if err = row.Scan(&t.PublicId, &t.Description, &t.CreatedAt, &t.ExpiresAt, &scopes, &t.Value); err == nil {
				t.Scopes, err = unmarshalStrings(scopes)
			}
			return
		},
	}
	s.stmtTokenDelete = stmtExec{name: "apiTokenDelete", query: `DELETE FROM tokens WHERE public_id = ?`}
}

// TokenCreate stores an already hashed token value.
func (s Storage) TokenCreate(description string, expires time.Time, scopes []string, hashed string) (*Token, error) {
	now := time.Now().Unix()
	id, err := s.stmtTokenCreate.one(nil, description, now, expires.Unix(), marshalStrings(scopes), hashed)
	if err != nil {
		return nil, err
	}
	return &Token{PublicId: *id, Description: description, CreatedAt: now, ExpiresAt: expires.Unix(), Scopes: scopes}, nil
}

// TokenLookup returns the unexpired token with the given hashed value.
func (s Storage) TokenLookup(hashed string) (*Token, error) {
	t, err := s.stmtTokenLookup.one(nil, hashed)
	if err != nil || t == nil {
		return nil, err
	}
	if t.ExpiresAt < time.Now().Unix() {
		return nil, nil
	}
	return &t.Token, nil
}

func (s Storage) TokenDelete(publicId int64) error {
	return notFoundIfZero(s.stmtTokenDelete.run(nil, publicId))
}
