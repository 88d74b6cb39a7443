package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/vladlpavlov/Pythagoras-sub001/config"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
)

// valueCacheItems bounds the in-process read cache in front of the value store.
const valueCacheItems = 1 << 14

// Stores are the persistent dictionaries a Cloud works with.
type Stores struct {
	// Values holds content-addressed values: arguments, packed argument
	// maps, snapshots and call signatures. Immutable.
	Values persidict.Dict
	// Outputs maps call-signature addresses to outputs. Immutable.
	Outputs persidict.Dict

	Requests   persidict.Dict
	Events     persidict.Dict
	Exceptions persidict.Dict
}

// StoreFactory builds the Stores of a Cloud in place of the configured
// backend. The returned closer releases them.
type StoreFactory func(ctx context.Context, cfg config.Config) (Stores, func() error, error)

func openStores(ctx context.Context, cfg Config) (Stores, func() error, error) {
	var (
		s      Stores
		closer func() error
		err    error
	)
	if cfg.Stores != nil {
		s, closer, err = cfg.Stores(ctx, cfg.Config)
	} else {
		s, closer, err = openBackend(ctx, cfg.Config)
	}
	if err != nil {
		return Stores{}, nil, err
	}
	if closer == nil {
		closer = func() error { return nil }
	}
	cached, err := persidict.NewCachedDict(s.Values, valueCacheItems)
	if err != nil {
		return Stores{}, nil, multierr.Append(err, closer())
	}
	s.Values = cached
	return s, func() error {
		cached.Close()
		return closer()
	}, nil
}

func openBackend(ctx context.Context, cfg config.Config) (Stores, func() error, error) {
	frozen := persidict.DefaultOptions()
	frozen.Format = persidict.Format(cfg.Format)
	frozen.Immutable = true
	open := frozen
	open.Immutable = false

	switch cfg.Backend {
	case config.BackendDir:
		return dirStores(cfg, frozen, open)
	case config.BackendBadger:
		return badgerStores(cfg, frozen, open)
	case config.BackendS3:
		store, err := persidict.NewS3Store(persidict.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
		})
		if err != nil {
			return Stores{}, nil, err
		}
		s, err := objectStores(store, scratchDir(cfg), frozen, open)
		return s, nil, err
	case config.BackendGCS:
		store, err := persidict.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return Stores{}, nil, err
		}
		s, err := objectStores(store, scratchDir(cfg), frozen, open)
		if err != nil {
			return Stores{}, nil, multierr.Append(err, store.Close())
		}
		return s, store.Close, nil
	default:
		panic(fmt.Sprintf("exhaustive match fallback, backend: %q", cfg.Backend))
	}
}

func dirStores(cfg config.Config, frozen, open persidict.Options) (Stores, func() error, error) {
	var s Stores
	var err, e error
	s.Values, e = persidict.NewFileDict(filepath.Join(cfg.BaseDir, "values"), frozen)
	err = multierr.Append(err, e)
	s.Outputs, e = persidict.NewFileDict(filepath.Join(cfg.BaseDir, "outputs"), frozen)
	err = multierr.Append(err, e)
	s.Requests, e = persidict.NewLWWDict(filepath.Join(cfg.BaseDir, "requests"), open, cfg.Retention)
	err = multierr.Append(err, e)
	s.Events, e = persidict.NewLWWDict(filepath.Join(cfg.BaseDir, "events"), open, cfg.Retention)
	err = multierr.Append(err, e)
	s.Exceptions, e = persidict.NewLWWDict(filepath.Join(cfg.BaseDir, "exceptions"), open, cfg.Retention)
	err = multierr.Append(err, e)
	return s, nil, err
}

func badgerStores(cfg config.Config, frozen, open persidict.Options) (Stores, func() error, error) {
	db, err := persidict.OpenBadger(cfg.BaseDir)
	if err != nil {
		return Stores{}, nil, err
	}
	fail := func(err error) (Stores, func() error, error) {
		return Stores{}, nil, multierr.Append(err, db.Close())
	}
	frozenRoot, err := persidict.NewBadgerDict(db, frozen)
	if err != nil {
		return fail(err)
	}
	openRoot, err := persidict.NewBadgerDict(db, open)
	if err != nil {
		return fail(err)
	}
	var s Stores
	for _, st := range []struct {
		dst  *persidict.Dict
		root *persidict.BadgerDict
		name string
	}{
		{&s.Values, frozenRoot, "values"},
		{&s.Outputs, frozenRoot, "outputs"},
		{&s.Requests, openRoot, "requests"},
		{&s.Events, openRoot, "events"},
		{&s.Exceptions, openRoot, "exceptions"},
	} {
		if *st.dst, err = st.root.SubDict(persidict.Key{st.name}); err != nil {
			return fail(err)
		}
	}
	return s, db.Close, nil
}

func objectStores(store persidict.ObjectStore, scratch string, frozen, open persidict.Options) (Stores, error) {
	var s Stores
	var err, e error
	s.Values, e = persidict.NewObjectDict(store, "values", scratch, frozen)
	err = multierr.Append(err, e)
	s.Outputs, e = persidict.NewObjectDict(store, "outputs", scratch, frozen)
	err = multierr.Append(err, e)
	s.Requests, e = persidict.NewObjectDict(store, "requests", scratch, open)
	err = multierr.Append(err, e)
	s.Events, e = persidict.NewObjectDict(store, "events", scratch, open)
	err = multierr.Append(err, e)
	s.Exceptions, e = persidict.NewObjectDict(store, "exceptions", scratch, open)
	err = multierr.Append(err, e)
	return s, err
}

func scratchDir(cfg config.Config) string {
	if cfg.Storage.LocalDir != "" {
		return cfg.Storage.LocalDir
	}
	return filepath.Join(os.TempDir(), "pythagoras", cfg.Storage.Bucket)
}
