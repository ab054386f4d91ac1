package avrorouter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicate = errors.New("avrorouter: pipeline already registered")
	ErrUnknown   = errors.New("avrorouter: no such pipeline")
	ErrRunning   = errors.New("avrorouter: registry is running")
)

// Registry holds the conversion pipelines of a process. It is created at
// start-up and closed at shutdown; pipelines must be added before Run.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	running   bool
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Add creates a pipeline for cfg. Two pipelines must not share an avro
// directory.
func (r *Registry) Add(cfg Config) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, ErrRunning
	}
	if _, ok := r.instances[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, cfg.Name)
	}
	for _, in := range r.instances {
		if in.cfg.AvroDir == cfg.AvroDir {
			return nil, fmt.Errorf("%w: avro dir %s used by %q", ErrDuplicate, cfg.AvroDir, in.cfg.Name)
		}
	}
	in, err := NewInstance(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
	}
	r.instances[cfg.Name] = in
	return in, nil
}

func (r *Registry) Get(name string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[name]
	return in, ok
}

// Instances returns the pipelines ordered by name.
func (r *Registry) Instances() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		list = append(list, in)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].cfg.Name < list[j].cfg.Name })
	return list
}

// Remove closes and forgets a pipeline that is not running.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunning
	}
	in, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	delete(r.instances, name)
	return in.Close()
}

func (r *Registry) Status() []InstanceStatus {
	var list []InstanceStatus
	for _, in := range r.Instances() {
		list = append(list, in.Status())
	}
	return list
}

// Run runs every pipeline until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for _, in := range r.Instances() {
		g.Go(func() error { return in.Run(ctx) })
	}
	return g.Wait()
}

// Close closes every pipeline.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, in := range r.instances {
		if err := in.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", name, err))
		}
		delete(r.instances, name)
	}
	return errors.Join(errs...)
}
