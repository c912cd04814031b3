package app

import (
	"context"
	"errors"
	"io/fs"

	"impfwatch/internal/config"
	"impfwatch/internal/storage"
	"impfwatch/internal/subscribers"
	"impfwatch/pkg/logx"
)

// Registry is an offline handle on the persisted subscriber registry, used by
// the CLI management commands. It needs no Telegram token or birth date.
type Registry struct {
	*subscribers.Service
	store storage.Store
}

// OpenRegistry reads only the storage section of the config at cfgPath. A
// missing config file means the default file store.
func OpenRegistry(ctx context.Context, cfgPath string, log logx.Logger) (*Registry, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &config.Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	reg, err := subscribers.Load(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Registry{
		Service: subscribers.New(reg, st, nil, log.With(logx.String("comp", "subscribers"))),
		store:   st,
	}, nil
}

func (r *Registry) Close() error { return r.store.Close() }
