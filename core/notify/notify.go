// Package notify publishes stage summaries to downstream consumers, such as
// the dispatch service, once a stage has committed its output.
package notify

import (
	"context"
	"errors"

	"github.com/kilianp07/dockflow/core/factory"
	"github.com/kilianp07/dockflow/core/model"
)

// Message is the payload published after a stage finishes.
type Message struct {
	RunID  string            `json:"run_id"`
	Report model.StageReport `json:"report"`
	// Jobs carries the new job set after a rebalance stage.
	Jobs []model.RebalancingJob `json:"jobs,omitempty"`
}

// Notifier publishes stage messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// Config lists the configured notifiers.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
}

// NopNotifier discards messages.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Message) error { return nil }
func (NopNotifier) Close() error                          { return nil }

// MultiNotifier publishes to every notifier and joins their errors.
type MultiNotifier struct {
	Notifiers []Notifier
}

// Notify forwards msg to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.Notifiers {
		errs = append(errs, n.Notify(ctx, msg))
	}
	return errors.Join(errs...)
}

// Close closes all notifiers.
func (m *MultiNotifier) Close() error {
	var errs []error
	for _, n := range m.Notifiers {
		errs = append(errs, n.Close())
	}
	return errors.Join(errs...)
}

var registry = factory.NewRegistry[Notifier]()

// Register adds a notifier factory identified by name.
func Register(name string, f factory.Factory[Notifier]) error {
	return registry.Register(name, f)
}

// New creates the notifiers described by cfgs.
func New(cfgs []factory.ModuleConfig) (Notifier, error) {
	if len(cfgs) == 0 {
		return NopNotifier{}, nil
	}
	ns, err := registry.CreateAll(cfgs, func(n Notifier) { _ = n.Close() })
	if err != nil {
		return nil, err
	}
	if len(ns) == 1 {
		return ns[0], nil
	}
	return &MultiNotifier{Notifiers: ns}, nil
}
