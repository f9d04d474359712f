package storage

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Type identifies a storage provider implementation.
type Type string

const (
	Bolt  Type = "bolt"
	Redis Type = "redis"
)

// OptionID identifies a provider-specific construction option.
type OptionID string

const (
	BoltFilePathOption  OptionID = "bolt-filepath"
	RedisAddressOption  OptionID = "redis-address"
	RedisPasswordOption OptionID = "redis-password"
)

type Option struct {
	ID     OptionID
	Option any
}

// ServiceStorage describes the api for storage independent of DB providers.
// Each namespace is an independent keyed record set; Write has upsert semantics.
type ServiceStorage interface {
	Close() error
	Write(ctx context.Context, namespace, key string, value []byte) error
	Read(ctx context.Context, namespace, key string) ([]byte, error)
	ReadAll(ctx context.Context, namespace string) (map[string][]byte, error)
	Exists(ctx context.Context, namespace, key string) (bool, error)
	Delete(ctx context.Context, namespace, key string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	IsOpen() bool
	Type() Type
	URI() string
}

// AvailableStorage returns the storage providers this build supports.
func AvailableStorage() []Type {
	return []Type{Bolt, Redis}
}

// IsStorageAvailable determines whether a given storage provider is available for instantiation.
func IsStorageAvailable(storageType Type) bool {
	for _, available := range AvailableStorage() {
		if storageType == available {
			return true
		}
	}
	return false
}

// NewStorage instantiates a storage provider by type with the given options.
func NewStorage(storageType Type, opts ...Option) (ServiceStorage, error) {
	switch storageType {
	case Bolt:
		filePath := DBFile
		for _, opt := range opts {
			if opt.ID == BoltFilePathOption {
				filePath = opt.Option.(string)
			}
		}
		return NewBoltDB(filePath)
	case Redis:
		var address, password string
		for _, opt := range opts {
			switch opt.ID {
			case RedisAddressOption:
				address = opt.Option.(string)
			case RedisPasswordOption:
				password = opt.Option.(string)
			}
		}
		if address == "" {
			return nil, errors.New("redis storage requires an address option")
		}
		return NewRedisDB(address, password)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", storageType)
	}
}

// StorageError indicates a failure to durably read or write state, as opposed
// to a business-rule failure. Callers are expected to match it with errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapError wraps err as a StorageError for the given operation. Returns nil
// when err is nil so it can be chained on the tail of storage calls.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
