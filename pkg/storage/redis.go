package storage

import (
	"context"
	"fmt"
	"strings"

	goredislib "github.com/redis/go-redis/v9"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	pong               = "PONG"
	redisScanBatchSize = 1000
)

// RedisDB is an alternate provider for deployments where several verifier
// kiosks share one trust cache. Namespacing is done by key prefix.
type RedisDB struct {
	db *goredislib.Client
}

func NewRedisDB(address, password string) (*RedisDB, error) {
	client := goredislib.NewClient(&goredislib.Options{
		Addr:     address,
		Password: password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrapf(err, "connecting to redis at %s", address)
	}
	return &RedisDB{db: client}, nil
}

func (r *RedisDB) Close() error {
	return r.db.Close()
}

func (r *RedisDB) IsOpen() bool {
	res, err := r.db.Ping(context.Background()).Result()
	if err != nil {
		logrus.WithError(err).Error("pinging redis")
		return false
	}
	return res == pong
}

func (r *RedisDB) Type() Type {
	return Redis
}

func (r *RedisDB) URI() string {
	return r.db.Options().Addr
}

func (r *RedisDB) Write(ctx context.Context, namespace, key string, value []byte) error {
	// zero expiration means the key has no expiration time
	return r.db.Set(ctx, getRedisKey(namespace, key), value, 0).Err()
}

func (r *RedisDB) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	result, err := r.db.Get(ctx, getRedisKey(namespace, key)).Bytes()
	if errors.Is(err, goredislib.Nil) {
		return nil, nil
	}
	return result, err
}

func (r *RedisDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	namespaceKeys, err := r.readAllKeys(ctx, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "reading all keys")
	}

	result := make(map[string][]byte, len(namespaceKeys))
	if len(namespaceKeys) == 0 {
		return result, nil
	}

	values, err := r.db.MGet(ctx, namespaceKeys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "getting multiple keys")
	}
	if len(namespaceKeys) != len(values) {
		return nil, errors.New("key length does not match value length")
	}

	prefix := namespace + "#"
	for i, value := range values {
		if value == nil {
			continue
		}
		result[strings.TrimPrefix(namespaceKeys[i], prefix)] = []byte(fmt.Sprintf("%v", value))
	}
	return result, nil
}

func (r *RedisDB) Exists(ctx context.Context, namespace, key string) (bool, error) {
	count, err := r.db.Exists(ctx, getRedisKey(namespace, key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RedisDB) Delete(ctx context.Context, namespace, key string) error {
	return r.db.Del(ctx, getRedisKey(namespace, key)).Err()
}

func (r *RedisDB) DeleteNamespace(ctx context.Context, namespace string) error {
	namespaceKeys, err := r.readAllKeys(ctx, namespace)
	if err != nil {
		return errors.Wrap(err, "reading all keys")
	}
	if len(namespaceKeys) == 0 {
		return nil
	}
	return r.db.Del(ctx, namespaceKeys...).Err()
}

func (r *RedisDB) readAllKeys(ctx context.Context, namespace string) ([]string, error) {
	var cursor uint64
	allKeys := make([]string, 0)
	for {
		keys, nextCursor, err := r.db.Scan(ctx, cursor, namespace+"#*", redisScanBatchSize).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scanning keys")
		}
		allKeys = append(allKeys, keys...)
		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}
	return allKeys, nil
}

func getRedisKey(namespace, key string) string {
	return namespace + "#" + key
}

var _ ServiceStorage = (*RedisDB)(nil)
