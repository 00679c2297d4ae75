// Package strategy defines the pluggable strategy contract and a
// compile-time registry of constructors, keyed by name, instantiated from
// configuration documents. New strategies are wired in Go source rather
// than discovered by scanning a directory at runtime.
package strategy

import (
	"github.com/aristath/arduino-trader/internal/market"
	"github.com/aristath/arduino-trader/internal/signal"
)

// ConfigDocument is the opaque per-strategy configuration payload parsed
// from the strategy definition (e.g. a decoded YAML/JSON document).
type ConfigDocument map[string]interface{}

// Strategy is any value satisfying the analyze/generate-signals
// contract. Configure is called once at load time. Analyze and
// GenerateSignals are called once per runner invocation; a strategy must
// not retain mutable state across invocations it cannot recompute from
// its own Configure-time configuration.
type Strategy interface {
	Configure(doc ConfigDocument) error
	DeclaredAssets() []string
	Analyze(bundle market.Bundle) (analysis interface{}, err error)
	GenerateSignals(analysis interface{}) []signal.Signal
}

// Constructor builds a fresh, unconfigured Strategy instance.
type Constructor func() Strategy

var registry = map[string]Constructor{}

// Register adds a named strategy constructor to the static registry.
// Called from each strategy package's init().
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Lookup returns the constructor registered under name, if any.
func Lookup(name string) (Constructor, bool) {
	ctor, ok := registry[name]
	return ctor, ok
}

// Names returns every registered strategy name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Definition names one configured strategy instance to build: which
// registered constructor to use, and its configuration document.
type Definition struct {
	Name   string
	Config ConfigDocument
}

// Load scans the given strategy definitions and constructs one instance
// per definition, configuring each before returning it. An unknown
// strategy name is an error; a Configure failure is also an error, since
// both are load-time configuration mistakes rather than runtime faults.
func Load(defs []Definition) (map[string]Strategy, error) {
	out := make(map[string]Strategy, len(defs))
	for _, def := range defs {
		ctor, ok := Lookup(def.Name)
		if !ok {
			return nil, &UnknownStrategyError{Name: def.Name}
		}
		inst := ctor()
		if err := inst.Configure(def.Config); err != nil {
			return nil, &ConfigureError{Name: def.Name, Cause: err}
		}
		out[def.Name] = inst
	}
	return out, nil
}

// UnknownStrategyError reports a definition naming an unregistered
// strategy.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return "unknown strategy: " + e.Name
}

// ConfigureError reports a strategy's Configure call failing at load time.
type ConfigureError struct {
	Name  string
	Cause error
}

func (e *ConfigureError) Error() string {
	return "failed to configure strategy " + e.Name + ": " + e.Cause.Error()
}

func (e *ConfigureError) Unwrap() error {
	return e.Cause
}
