package natsutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eventbook/project/internal/platform/kv"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

func Connect(url string) (*Client, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectWithRetry(url string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := Connect(url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// KeyValue opens the named bucket, creating it when missing.
func (c *Client) KeyValue(bucket string) (nats.KeyValue, error) {
	b, err := c.JS.KeyValue(bucket)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, err
	}
	return c.JS.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		Storage: nats.FileStorage,
	})
}

// KVStore adapts a JetStream key-value bucket to the kv.Store interface.
type KVStore struct {
	Bucket nats.KeyValue
}

func (s KVStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := s.Bucket.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	return entry.Value(), nil
}

func (s KVStore) Put(_ context.Context, key string, value []byte) error {
	_, err := s.Bucket.Put(key, value)
	return err
}

func (s KVStore) Delete(_ context.Context, key string) error {
	err := s.Bucket.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return err
	}
	return nil
}
