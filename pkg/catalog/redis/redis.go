package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
)

// RedisCatalog stores documents in Redis.
//
// Layout (below KeyPrefix):
//
//	doc:<id>       string, JSON document
//	lib:<library>  set of document ids
type RedisCatalog struct {
	client    *redis.Client
	keyPrefix string
}

// RedisCatalogConfig contains the connection settings.
type RedisCatalogConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisCatalog connects to Redis and verifies the connection with PING.
func NewRedisCatalog(ctx context.Context, cfg RedisCatalogConfig) (*RedisCatalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisCatalog{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (c *RedisCatalog) docKey(id string) string {
	return c.keyPrefix + string(catalog.DocumentKey(id))
}

func (c *RedisCatalog) libKey(library string) string {
	return c.keyPrefix + "lib:" + library
}

func (c *RedisCatalog) Put(ctx context.Context, doc *catalog.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	data, err := catalog.Encode(doc)
	if err != nil {
		return err
	}

	previous, err := c.Get(ctx, doc.ID)
	if err != nil && !errors.Is(err, catalog.ErrDocumentNotFound) {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.Library != doc.Library {
			pipe.SRem(ctx, c.libKey(previous.Library), doc.ID)
		}
		pipe.Set(ctx, c.docKey(doc.ID), data, 0)
		pipe.SAdd(ctx, c.libKey(doc.Library), doc.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}
	return nil
}

func (c *RedisCatalog) Get(ctx context.Context, id string) (*catalog.Document, error) {
	data, err := c.client.Get(ctx, c.docKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("document %s: %w", id, catalog.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return catalog.Decode(data)
}

func (c *RedisCatalog) Delete(ctx context.Context, id string) error {
	doc, err := c.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.docKey(id))
		pipe.SRem(ctx, c.libKey(doc.Library), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (c *RedisCatalog) List(ctx context.Context, library string) ([]*catalog.Document, error) {
	ids, err := c.client.SMembers(ctx, c.libKey(library)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list library %s: %w", library, err)
	}

	docs := make([]*catalog.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := c.Get(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrDocumentNotFound) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *RedisCatalog) Close() error {
	return c.client.Close()
}
