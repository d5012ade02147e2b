package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hanpama/chaingraph/internal/assembly"
	"github.com/hanpama/chaingraph/internal/bridge"
	"github.com/hanpama/chaingraph/internal/chain"
	"github.com/hanpama/chaingraph/internal/classifier"
	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/config"
	"github.com/hanpama/chaingraph/internal/metadata"
)

var errOffline = errors.New("no chain connection")

// offline answers guest storage calls when no node is connected.
type offline struct{}

func (offline) Query(ctx context.Context, module, item string, key *string, at string) (codec.Value, error) {
	return nil, fmt.Errorf("%s.%s: %w", module, item, errOffline)
}

func dial(ctx context.Context, cfg *config.Config, log *zap.Logger) (*chain.Client, error) {
	return chain.Dial(ctx, cfg.Chain.Endpoint,
		chain.WithClientLogger(log.Named("rpc")),
		chain.WithHandshakeTimeout(cfg.Chain.DialTimeout))
}

// stack is what every command derives from the chain and the query module.
// meta and store stay nil when the command has no use for them.
type stack struct {
	log       *zap.Logger
	types     *codec.Registry
	cls       *classifier.Registry
	meta      *metadata.Metadata
	store     *chain.Store
	guest     *bridge.Bridge
	resolvers *bridge.Namespace
}

// loadStack loads types, metadata and the query module. Metadata comes from
// the snapshot when configured, else from rpc; with neither it is skipped.
func loadStack(ctx context.Context, cfg *config.Config, log *zap.Logger, rpc chain.RPC) (*stack, error) {
	st := &stack{log: log, types: codec.NewRegistry()}
	if cfg.Chain.Types != "" {
		if err := st.types.LoadBundleFile(cfg.Chain.Types); err != nil {
			return nil, fmt.Errorf("load types: %w", err)
		}
	}
	st.cls = classifier.New(st.types,
		classifier.WithLogger(log.Named("classifier")),
		classifier.WithSS58Prefix(cfg.Chain.SS58Prefix))

	var err error
	switch {
	case cfg.Chain.Metadata != "":
		st.meta, err = metadata.LoadSnapshot(cfg.Chain.Metadata)
	case rpc != nil:
		st.meta, err = chain.FetchMetadata(ctx, rpc)
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	var querier bridge.Querier = offline{}
	if rpc != nil && st.meta != nil {
		st.store, err = chain.NewStore(rpc, st.meta, st.types,
			chain.WithStoreLogger(log.Named("store")),
			chain.WithHashCacheLife(cfg.Chain.HashCacheLife))
		if err != nil {
			return nil, err
		}
		querier = st.store
	}

	if cfg.Guest.Module != "" {
		wasm, err := os.ReadFile(cfg.Guest.Module)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.guest, err = bridge.Load(ctx, wasm, querier, st.cls,
			bridge.WithLogger(log.Named("guest")),
			bridge.WithTimeout(cfg.Guest.Timeout))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load query module %s: %w", cfg.Guest.Module, err)
		}
		if st.resolvers, err = st.guest.EnumerateResolvers(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("enumerate resolvers: %w", err)
		}
	}
	return st, nil
}

// assemble builds the schema document for the queryable modules and the
// guest resolvers, logging every warning.
func (st *stack) assemble(cfg *config.Config) (*assembly.Document, error) {
	var modules []*metadata.ModuleDescriptor
	if st.meta != nil {
		modules = st.meta.Queryable(cfg.Chain.Blacklist)
	}
	doc, err := assembly.New(st.cls, assembly.WithLogger(st.log)).Build(modules, st.resolvers)
	if err != nil {
		return nil, err
	}
	for _, w := range doc.Warnings {
		st.log.Warn("schema", zap.String("warning", w))
	}
	return doc, nil
}

func (st *stack) Close() {
	if st.guest != nil {
		if err := st.guest.Close(context.Background()); err != nil {
			st.log.Warn("close query module", zap.Error(err))
		}
	}
	if st.store != nil {
		_ = st.store.Close()
	}
}
