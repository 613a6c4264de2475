/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/suparena/entityrepo/collection"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/datastore/ddb"
	"github.com/suparena/entityrepo/telemetry"
)

// DriverFactory builds the driver of a named configuration.
type DriverFactory func(ctx context.Context, name string, db config.DatabaseConfig) (datastore.Driver, error)

// Runtime holds what every repository of a process shares: the configuration,
// one driver per configuration and the registries behind the collections.
type Runtime struct {
	cfg     *config.Config
	shared  *collection.Shared
	factory DriverFactory

	mu      sync.RWMutex
	drivers map[string]datastore.Driver
}

// Option configures a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger  *slog.Logger
	factory DriverFactory
	drivers map[string]datastore.Driver
}

// WithLogger sets the logger used by the runtime and its collections.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

// WithDriver binds a ready driver to a configuration name.
func WithDriver(name string, driver datastore.Driver) Option {
	return func(o *runtimeOptions) {
		o.drivers[name] = driver
	}
}

// WithDriverFactory replaces how drivers are built for configurations that
// have no driver yet. The default connects to DynamoDB.
func WithDriverFactory(factory DriverFactory) Option {
	return func(o *runtimeOptions) {
		o.factory = factory
	}
}

// NewRuntime validates cfg and creates a runtime for it. Drivers are created
// on first use.
func NewRuntime(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := runtimeOptions{drivers: make(map[string]datastore.Driver)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	rt := &Runtime{
		cfg:     cfg,
		shared:  collection.NewShared(o.logger),
		factory: o.factory,
		drivers: o.drivers,
	}
	if rt.factory == nil {
		rt.factory = rt.dynamoDriver
	}
	return rt, nil
}

// Config returns the configuration the runtime was created with.
func (rt *Runtime) Config() *config.Config {
	return rt.cfg
}

// Shared returns the registries collections bind to.
func (rt *Runtime) Shared() *collection.Shared {
	return rt.shared
}

// Monitor returns the monitor every operation reports to.
func (rt *Runtime) Monitor() *telemetry.Monitor {
	return rt.shared.Monitor
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.shared.Logger
}

// RegisterDriver binds driver to a configuration name. It fails when the
// name already has a driver.
func (rt *Runtime) RegisterDriver(name string, driver datastore.Driver) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.drivers[name]; exists {
		return fmt.Errorf("driver for configuration %q already registered", name)
	}
	rt.drivers[name] = driver
	return nil
}

// Driver returns the driver of a configuration, creating it on first use.
func (rt *Runtime) Driver(ctx context.Context, name string) (datastore.Driver, error) {
	rt.mu.RLock()
	d, exists := rt.drivers[name]
	rt.mu.RUnlock()
	if exists {
		return d, nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if d, exists := rt.drivers[name]; exists {
		return d, nil
	}

	db, ok := rt.cfg.Configurations[name]
	if !ok {
		return nil, fmt.Errorf("configuration %q not found", name)
	}
	d, err := rt.factory(ctx, name, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver for %q: %w", name, err)
	}
	rt.drivers[name] = d
	return d, nil
}

// Drivers lists the configuration names that have a driver.
func (rt *Runtime) Drivers() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	names := make([]string, 0, len(rt.drivers))
	for name := range rt.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rt *Runtime) dynamoDriver(ctx context.Context, name string, db config.DatabaseConfig) (datastore.Driver, error) {
	d, err := ddb.NewDynamodbDataStore(ctx, ddb.ClientConfig{
		Region:    db.Region,
		Endpoint:  db.Endpoint,
		AccessKey: db.AccessKey,
		SecretKey: db.SecretKey,
	}, ddb.WithLogger(rt.shared.Logger.With("configuration", name)))
	if err != nil {
		return nil, err
	}
	return d, nil
}
