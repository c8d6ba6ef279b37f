// Package configflow provides a top-level convenience entry point for
// the multi-source configuration manager.
//
// Usage:
//
//	import "github.com/BaSui01/configflow"
//
//	m := configflow.New(configflow.WithLogger(logger))
//	defer m.Close()
//
//	fileProv, err := configflow.NewFlatFileProvider("app-file", 100, "app.properties")
//	if err != nil { ... }
//	_ = m.RegisterProvider(fileProv)
//	_ = m.RegisterProvider(configflow.NewEnvProvider("env", 300, configflow.WithEnvPrefix("APP")))
//
//	timeout, err := m.GetIntDefault("app.timeout", 30)
//
// This is a thin wrapper around [manager.New] and the provider
// constructors; use this package when you prefer the shorter import
// path.
package configflow

import (
	"github.com/BaSui01/configflow/manager"
	"github.com/BaSui01/configflow/provider"
)

// Manager aggregates providers into one prioritized view.
type Manager = manager.Manager

// Option configures the manager created by [New].
type Option = manager.Option

// Provider is the contract every configuration source implements.
type Provider = provider.Provider

// ChangeEvent is a classified Added/Modified/Deleted key transition.
type ChangeEvent = provider.ChangeEvent

// ChangeListener receives change events.
type ChangeListener = provider.ChangeListener

// ListenerFunc adapts a plain function into a ChangeListener.
type ListenerFunc = provider.ListenerFunc

// New creates an empty configuration manager.
var New = manager.New

// WithLogger sets a custom zap logger on the manager.
var WithLogger = manager.WithLogger

// WithCacheDisabled turns off the resolved-value cache.
var WithCacheDisabled = manager.WithCacheDisabled

// WithMetrics enables the prometheus collector under a namespace.
var WithMetrics = manager.WithMetrics

// Re-export provider constructors so callers never need to import provider/.

// NewPropertiesProvider creates a read-only in-memory provider.
var NewPropertiesProvider = provider.NewPropertiesProvider

// NewEnvProvider creates a provider over the process environment.
var NewEnvProvider = provider.NewEnvProvider

// WithEnvPrefix sets the tolerant-lookup prefix for an EnvProvider.
var WithEnvPrefix = provider.WithEnvPrefix

// NewFlatFileProvider creates a live-reloading key=value file provider.
var NewFlatFileProvider = provider.NewFlatFileProvider

// NewYAMLFileProvider creates a hierarchical YAML document provider.
var NewYAMLFileProvider = provider.NewYAMLFileProvider
