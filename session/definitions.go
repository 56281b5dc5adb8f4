// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import (
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/storage"
)

const (
	DefinitionTTL     = time.Minute
	definitionMaxKeys = 1024
)

// DefinitionSource looks up product definitions. A missing definition is
// reported as (nil, nil).
type DefinitionSource interface {
	PropertyGet(ctx context.Context, id string) (*storage.Property, error)
	CommandGet(ctx context.Context, id string) (*storage.Command, error)
}

// DefinitionCache keeps definitions for DefinitionTTL so repeated operations
// on one device do not refetch them. Misses are not cached.
type DefinitionCache struct {
	src   DefinitionSource
	props cache.Cache[string, storage.Property]
	cmds  cache.Cache[string, storage.Command]
}

func NewDefinitionCache(src DefinitionSource, ttl time.Duration) *DefinitionCache {
	if ttl <= 0 {
		ttl = DefinitionTTL
	}
	return &DefinitionCache{
		src:   src,
		props: cache.NewCache[string, storage.Property]().WithTTL(ttl).WithMaxKeys(definitionMaxKeys),
		cmds:  cache.NewCache[string, storage.Command]().WithTTL(ttl).WithMaxKeys(definitionMaxKeys),
	}
}

func (c *DefinitionCache) PropertyGet(ctx context.Context, id string) (*storage.Property, error) {
	if p, ok := c.props.Get(id); ok {
		return &p, nil
	}
	p, err := c.src.PropertyGet(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	c.props.Set(id, *p, 0)
	return p, nil
}

func (c *DefinitionCache) CommandGet(ctx context.Context, id string) (*storage.Command, error) {
	if cmd, ok := c.cmds.Get(id); ok {
		return &cmd, nil
	}
	cmd, err := c.src.CommandGet(ctx, id)
	if err != nil || cmd == nil {
		return nil, err
	}
	c.cmds.Set(id, *cmd, 0)
	return cmd, nil
}

// Invalidate drops one cached definition, e.g. after it was edited.
func (c *DefinitionCache) Invalidate(id string) {
	c.props.Invalidate(id)
	c.cmds.Invalidate(id)
}

func (c *DefinitionCache) Purge() {
	c.props.Purge()
	c.cmds.Purge()
}
