package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/metadata"
)

var (
	// ErrResultCount is returned when a batched query answers with a different
	// number of values than keys were requested.
	ErrResultCount = errors.New("fieldnames and returned values length mismatch")
	// ErrKeyCount is returned when the number of map keys does not match the
	// storage structure.
	ErrKeyCount = errors.New("wrong number of storage keys")
	// ErrUnknownBlock is returned when the node has no hash for a height.
	ErrUnknownBlock = errors.New("unknown block")
)

// Header is the part of a block header the resolvers need.
type Header struct {
	ParentHash string
	Number     uint64
}

// Store answers storage queries for the modules described by the metadata.
// Module and item names are matched in lower camel case.
type Store struct {
	rpc    RPC
	meta   *metadata.Metadata
	types  *codec.Registry
	hashes *bigcache.BigCache
	logger *zap.Logger

	hashLife time.Duration
}

// StoreOption configures NewStore.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithHashCacheLife sets how long block hashes stay cached. Heights close to
// the head can be reorganized, so keep this short on chains without instant
// finality.
func WithHashCacheLife(d time.Duration) StoreOption {
	return func(s *Store) { s.hashLife = d }
}

// NewStore returns a Store querying through rpc.
func NewStore(rpc RPC, meta *metadata.Metadata, types *codec.Registry, opts ...StoreOption) (*Store, error) {
	s := &Store{
		rpc:      rpc,
		meta:     meta,
		types:    types,
		logger:   zap.NewNop(),
		hashLife: 10 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	cfg := bigcache.DefaultConfig(s.hashLife)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 4096
	cfg.MaxEntrySize = 80
	cfg.Verbose = false
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("block hash cache: %w", err)
	}
	s.hashes = cache
	return s, nil
}

// Close releases the hash cache.
func (s *Store) Close() error { return s.hashes.Close() }

// Metadata returns the metadata the store was built with.
func (s *Store) Metadata() *metadata.Metadata { return s.meta }

// Header returns the best block header.
func (s *Store) Header(ctx context.Context) (Header, error) {
	var raw struct {
		ParentHash string `json:"parentHash"`
		Number     string `json:"number"`
	}
	if err := s.rpc.Call(ctx, "chain_getHeader", &raw); err != nil {
		return Header{}, err
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(raw.Number, "0x"), 16, 64)
	if err != nil {
		return Header{}, fmt.Errorf("header number %q: %w", raw.Number, err)
	}
	return Header{ParentHash: raw.ParentHash, Number: n}, nil
}

// BlockHash returns the hash of the block at height.
func (s *Store) BlockHash(ctx context.Context, height uint64) (string, error) {
	key := strconv.FormatUint(height, 10)
	if b, err := s.hashes.Get(key); err == nil {
		return string(b), nil
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		s.logger.Warn("block hash cache", zap.Error(err))
	}
	var hash *string
	if err := s.rpc.Call(ctx, "chain_getBlockHash", &hash, height); err != nil {
		return "", err
	}
	if hash == nil {
		return "", fmt.Errorf("%w: %d", ErrUnknownBlock, height)
	}
	if err := s.hashes.Set(key, []byte(*hash)); err != nil {
		s.logger.Warn("block hash cache", zap.Error(err))
	}
	return *hash, nil
}

func (s *Store) item(module, item string) (*metadata.ModuleDescriptor, *metadata.StorageDescriptor, error) {
	m, err := s.meta.Module(lowerFirst(module))
	if err != nil {
		return nil, nil, err
	}
	sd, err := m.StorageByAPIName(lowerFirst(item))
	if err != nil {
		return nil, nil, err
	}
	return m, sd, nil
}

func (s *Store) key(m *metadata.ModuleDescriptor, sd *metadata.StorageDescriptor, key *string) (string, error) {
	var keys [][]byte
	if key != nil {
		keyType := sd.MapKeyType
		if sd.Structure == metadata.DoubleMap {
			return "", fmt.Errorf("%w: %s.%s is a double map", ErrKeyCount, m.APIName(), sd.APIName)
		}
		enc, err := s.types.EncodeKey(keyType, *key)
		if err != nil {
			return "", fmt.Errorf("%s.%s key: %w", m.APIName(), sd.APIName, err)
		}
		keys = append(keys, enc)
	}
	raw, err := StorageKey(m.Prefix, sd, keys...)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}

// decode turns a storage answer into a value. A missing value reads as the
// item default for Default items and as Null for Optional ones.
func (s *Store) decode(sd *metadata.StorageDescriptor, data *string) (codec.Value, error) {
	var raw []byte
	switch {
	case data != nil:
		b, err := hex.DecodeString(strings.TrimPrefix(*data, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s: storage value: %w", sd.Name, err)
		}
		raw = b
	case sd.Modifier == metadata.Default:
		raw = sd.Default
	default:
		return codec.Null{Type: sd.InnerType}, nil
	}
	return s.types.Decode(sd.InnerType, raw)
}

// Query reads one storage item. key is required for Map items and must be nil
// for Plain items. An empty at reads the best block.
func (s *Store) Query(ctx context.Context, module, item string, key *string, at string) (codec.Value, error) {
	m, sd, err := s.item(module, item)
	if err != nil {
		return nil, err
	}
	k, err := s.key(m, sd, key)
	if err != nil {
		return nil, err
	}
	params := []any{k}
	if at != "" {
		params = append(params, at)
	}
	var data *string
	if err := s.rpc.Call(ctx, "state_getStorage", &data, params...); err != nil {
		return nil, err
	}
	return s.decode(sd, data)
}

type changeSet struct {
	Block   string       `json:"block"`
	Changes [][2]*string `json:"changes"`
}

// QueryItems reads several Plain items of one module in a single round trip.
// Values are returned in the order of items.
func (s *Store) QueryItems(ctx context.Context, module string, items []string, at string) ([]codec.Value, error) {
	if len(items) == 0 {
		return nil, nil
	}
	sds := make([]*metadata.StorageDescriptor, len(items))
	keys := make([]string, len(items))
	for i, name := range items {
		m, sd, err := s.item(module, name)
		if err != nil {
			return nil, err
		}
		if keys[i], err = s.key(m, sd, nil); err != nil {
			return nil, err
		}
		sds[i] = sd
	}

	params := []any{keys}
	if at != "" {
		params = append(params, at)
	}
	var sets []changeSet
	if err := s.rpc.Call(ctx, "state_queryStorageAt", &sets, params...); err != nil {
		return nil, err
	}
	found := make(map[string]*string, len(keys))
	count := 0
	for _, set := range sets {
		for _, ch := range set.Changes {
			if ch[0] == nil {
				continue
			}
			found[strings.ToLower(*ch[0])] = ch[1]
			count++
		}
	}
	if count != len(keys) {
		return nil, fmt.Errorf("%w: requested %d, got %d", ErrResultCount, len(keys), count)
	}

	out := make([]codec.Value, len(keys))
	for i, k := range keys {
		data, ok := found[k]
		if !ok {
			return nil, fmt.Errorf("%w: no value for %s", ErrResultCount, items[i])
		}
		v, err := s.decode(sds[i], data)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FetchMetadata reads and decodes the runtime metadata of the best block.
func FetchMetadata(ctx context.Context, rpc RPC) (*metadata.Metadata, error) {
	var data string
	if err := rpc.Call(ctx, "state_getMetadata", &data); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("metadata hex: %w", err)
	}
	return metadata.Decode(raw)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
