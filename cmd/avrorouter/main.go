package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type Config struct {
	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var cfg Config
	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var parser = flags.NewParser(&cfg, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		mbp.InitLog(cfg.Log)
		return cmd.Execute(args)
	}

	addCmd(parser, "convert", "convert binlog files",
		"Convert binlog files into per table avro container files until interrupted.", &convertCmd{ctx: ctx})
	addCmd(parser, "view", "print binlog events",
		"Print the events of a binlog file, starting at FILE[:POS].", &viewCmd{})
	addCmd(parser, "cat", "print container records",
		"Print the records of avro container files as JSON lines.", &catCmd{})
	addCmd(parser, "check", "verify container files",
		"Walk avro container files block by block, verifying sync markers.", &checkCmd{})
	addCmd(parser, "index", "index gtids",
		"Record the blocks holding each GTID of the container files in an avro directory.", &indexCmd{ctx: ctx})
	addCmd(parser, "lookup", "find a gtid",
		"Print the container files and block offsets holding the rows of a GTID.", &lookupCmd{ctx: ctx})

	if _, err := parser.Parse(); err != nil {
		// flags.Default prints parse errors already
		if _, ok := err.(*flags.Error); !ok {
			log.WithError(err).Error("failed")
		}
		os.Exit(1)
	}
}

func addCmd(parser *flags.Parser, name, short, long string, data interface{}) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}
