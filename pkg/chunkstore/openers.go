package chunkstore

import (
	"context"

	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/eunmann/chunkagg/pkg/substrate/badgerkv"
	"github.com/eunmann/chunkagg/pkg/substrate/sqlitekv"
)

// SQLite returns an Opener for a SQLite-backed substrate.
func SQLite(cfg sqlitekv.Config) Opener {
	return func(ctx context.Context) (substrate.Backend, error) {
		b, err := sqlitekv.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Badger returns an Opener for a BadgerDB-backed substrate.
func Badger(cfg badgerkv.Config) Opener {
	return func(ctx context.Context) (substrate.Backend, error) {
		b, err := badgerkv.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
