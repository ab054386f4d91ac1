package avrorouter

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/santhosh-tekuri/avrorouter/binlog"
	"github.com/santhosh-tekuri/avrorouter/index"
)

const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 15 * time.Second
)

// Config describes one conversion pipeline.
type Config struct {
	Name string
	binlog.Config

	// IndexFile is the GTID index database. Empty disables indexing,
	// "default" uses AvroDir/avro.index.
	IndexFile string

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// InstanceStatus is a snapshot of a pipeline for diagnostics.
type InstanceStatus struct {
	Name    string
	Walker  binlog.Status
	Passes  int64
	Backoff time.Duration
	Err     string
}

// Instance owns one walker and re-invokes it until its context is
// cancelled. The delay between passes doubles while no progress is
// made, up to MaxBackoff, and drops back to MinBackoff as soon as the
// position moves.
type Instance struct {
	cfg    Config
	walker *binlog.Walker
	index  *index.Index
	log    *log.Entry

	mu      sync.Mutex
	passes  int64
	backoff time.Duration
	err     error
}

func NewInstance(cfg Config) (*Instance, error) {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	if cfg.IndexFile == "default" {
		cfg.IndexFile = filepath.Join(cfg.AvroDir, index.DefaultFile)
	}
	w, err := binlog.NewWalker(cfg.Config)
	if err != nil {
		return nil, err
	}
	in := &Instance{
		cfg:     cfg,
		walker:  w,
		backoff: cfg.MinBackoff,
		log:     log.WithField("pipeline", cfg.Name),
	}
	if cfg.IndexFile != "" {
		if in.index, err = index.Open(cfg.IndexFile); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return in, nil
}

func (in *Instance) Name() string           { return in.cfg.Name }
func (in *Instance) Walker() *binlog.Walker { return in.walker }

func (in *Instance) Status() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	s := InstanceStatus{
		Name:    in.cfg.Name,
		Walker:  in.walker.Status(),
		Passes:  in.passes,
		Backoff: in.backoff,
	}
	if in.err != nil {
		s.Err = in.err.Error()
	}
	return s
}

// Step runs the walker once and indexes what it wrote. It returns the
// delay before the next step.
func (in *Instance) Step(ctx context.Context) time.Duration {
	before := in.walker.State()
	outcome, err := in.walker.Run(ctx)
	after := in.walker.State()

	entry := in.log.WithFields(log.Fields{"outcome": outcome, "file": after.File, "pos": after.Position})
	switch outcome {
	case binlog.OutcomeBinlogError:
		entry.WithError(err).Error("conversion stopped")
	case binlog.OutcomeOpenTransaction:
		entry.Debug("waiting for transaction to complete")
	default:
		entry.Trace("pass done")
	}
	if in.index != nil && after != before {
		n, ierr := in.index.IndexDir(ctx, in.cfg.AvroDir)
		if ierr != nil && !errors.Is(ierr, context.Canceled) {
			in.log.WithError(ierr).Warn("gtid indexing failed")
		} else if n > 0 {
			in.log.WithField("gtids", n).Debug("indexed")
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.passes++
	in.err = err
	switch {
	case after != before:
		in.backoff = in.cfg.MinBackoff
	case in.backoff*2 > in.cfg.MaxBackoff:
		in.backoff = in.cfg.MaxBackoff
	default:
		in.backoff *= 2
	}
	return in.backoff
}

// Run steps the walker until ctx is cancelled.
func (in *Instance) Run(ctx context.Context) error {
	in.log.WithField("state", in.walker.State()).Info("pipeline started")
	for {
		delay := in.Step(ctx)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			in.log.Info("pipeline stopped")
			return nil
		case <-t.C:
		}
	}
}

// Close flushes committed rows and releases the walker and index.
func (in *Instance) Close() error {
	err := in.walker.Close()
	if in.index != nil {
		if cerr := in.index.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
