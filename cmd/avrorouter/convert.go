package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"

	"github.com/santhosh-tekuri/avrorouter"
	"github.com/santhosh-tekuri/avrorouter/binlog"
)

type convertCmd struct {
	ctx context.Context

	Name           string        `long:"name" env:"AVROROUTER_NAME" default:"main" description:"Pipeline name used in logs and status"`
	BinlogDir      string        `long:"binlogdir" env:"AVROROUTER_BINLOGDIR" required:"true" description:"Directory holding the binlog files"`
	BinlogBasename string        `long:"filestem" env:"AVROROUTER_FILESTEM" default:"mysql-bin" description:"Binlog file name prefix, used to find the first file"`
	StartFile      string        `long:"start-file" env:"AVROROUTER_START_FILE" description:"First binlog file when there is no conversion state"`
	AvroDir        string        `long:"avrodir" env:"AVROROUTER_AVRODIR" required:"true" description:"Directory for container, schema and state files"`
	StateFile      string        `long:"state-file" env:"AVROROUTER_STATE_FILE" description:"Conversion state file (default AVRODIR/avro-conversion.ini)"`
	GroupRows      int           `long:"group-rows" env:"AVROROUTER_GROUP_ROWS" default:"1000" description:"Flush once this many rows are buffered at a commit"`
	GroupTrx       int           `long:"group-trx" env:"AVROROUTER_GROUP_TRX" default:"1" description:"Flush after this many committed transactions"`
	Codec          string        `long:"codec" env:"AVROROUTER_CODEC" default:"null" choice:"null" choice:"deflate" choice:"zstandard" description:"Block compression codec"`
	MaxBlockSize   int           `long:"block-size" env:"AVROROUTER_BLOCK_SIZE" default:"0" description:"Maximum uncompressed block size in bytes (0 uses the default)"`
	Fsync          bool          `long:"fsync" env:"AVROROUTER_FSYNC" description:"Sync container files after every block"`
	Index          string        `long:"index" env:"AVROROUTER_INDEX" description:"GTID index database; 'default' uses AVRODIR/avro.index"`
	MinBackoff     time.Duration `long:"min-backoff" default:"1s" description:"Delay between passes while the server writes"`
	MaxBackoff     time.Duration `long:"max-backoff" default:"15s" description:"Upper bound of the delay between idle passes"`
	Once           bool          `long:"once" description:"Convert what is available and exit"`

	MySQL     string   `long:"mysql" env:"AVROROUTER_MYSQL" description:"DSN of the server, used to learn tables created before the first binlog"`
	Databases []string `long:"database" description:"Databases to learn table definitions of (default all)"`

	MetricsAddr string `long:"metrics" env:"AVROROUTER_METRICS" description:"Address serving /metrics and /status"`
}

func (c *convertCmd) Execute(_ []string) error {
	reg := avrorouter.NewRegistry()
	defer func() {
		if err := reg.Close(); err != nil {
			log.WithError(err).Error("closing pipelines")
		}
	}()
	in, err := reg.Add(avrorouter.Config{
		Name: c.Name,
		Config: binlog.Config{
			BinlogDir:      c.BinlogDir,
			BinlogBasename: c.BinlogBasename,
			StartFile:      c.StartFile,
			AvroDir:        c.AvroDir,
			StateFile:      c.StateFile,
			GroupRows:      c.GroupRows,
			GroupTrx:       c.GroupTrx,
			Codec:          c.Codec,
			MaxBlockSize:   c.MaxBlockSize,
			Fsync:          c.Fsync,
		},
		IndexFile:  c.Index,
		MinBackoff: c.MinBackoff,
		MaxBackoff: c.MaxBackoff,
	})
	if err != nil {
		return err
	}

	if c.MySQL != "" {
		if err := c.seed(in.Walker().Catalog()); err != nil {
			return err
		}
	}
	if c.MetricsAddr != "" {
		srv := c.serve(reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if c.Once {
		in.Step(c.ctx)
		s := in.Status()
		log.WithFields(log.Fields{
			"outcome": s.Walker.LastOutcome,
			"file":    s.Walker.File,
			"pos":     s.Walker.Position,
			"events":  s.Walker.Events,
			"rows":    s.Walker.Rows,
		}).Info("conversion done")
		if s.Err != "" {
			return errors.New(s.Err)
		}
		return nil
	}
	return reg.Run(c.ctx)
}

func (c *convertCmd) seed(catalog *binlog.Catalog) error {
	src, err := binlog.OpenDDLSource(c.MySQL)
	if err != nil {
		return err
	}
	defer src.Close()
	ctx, cancel := context.WithTimeout(c.ctx, time.Minute)
	defer cancel()
	n, err := src.Seed(ctx, catalog, c.Databases...)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"tables": n, "databases": strings.Join(c.Databases, ",")}).Info("learned table definitions")
	return nil
}

func (c *convertCmd) serve(reg *avrorouter.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(reg.Status()); err != nil {
			log.WithError(err).Warn("writing status")
		}
	})
	srv := &http.Server{Addr: c.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener failed")
		}
	}()
	log.WithField("addr", c.MetricsAddr).Info("serving metrics")
	return srv
}
