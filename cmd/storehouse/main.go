// Command storehouse reads and writes objects through a configured backend.
//
// Usage:
//
//	storehouse -config storage.json [-offset N] [-length N] [-whence start|current|end] cat NAME
//	storehouse -config storage.json stat NAME
//	storehouse -config storage.json put NAME FILE
//
// Without -config a posix store rooted at the working directory is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/justapithecus/storehouse/storehouse"
	"github.com/justapithecus/storehouse/storehouse/config"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

type options struct {
	config  string
	offset  int64
	length  int64
	whence  string
	backoff bool
	verbose bool
}

var errUsage = errors.New("usage: storehouse [flags] cat NAME | stat NAME | put NAME FILE")

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("storehouse", flag.ContinueOnError)
	fs.StringVar(&opts.config, "config", "", "path to a JSON storage config")
	fs.Int64Var(&opts.offset, "offset", 0, "seek offset applied before reading")
	fs.Int64Var(&opts.length, "length", 0, "bytes to read; 0 reads to the end")
	fs.StringVar(&opts.whence, "whence", "start", "seek origin: start, current or end")
	fs.BoolVar(&opts.backoff, "backoff", false, "retry transient open failures with backoff")
	fs.BoolVar(&opts.verbose, "v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.verbose {
		log.SetLevel(log.DebugLevel)
	}

	rest := fs.Args()
	if len(rest) < 2 {
		return errUsage
	}

	store, err := openStore(ctx, opts.config)
	if err != nil {
		return err
	}

	switch cmd, name := rest[0], rest[1]; cmd {
	case "cat":
		return cat(ctx, store, name, opts, stdout)
	case "stat":
		return stat(ctx, store, name, stdout)
	case "put":
		if len(rest) != 3 {
			return errUsage
		}
		return put(ctx, store, name, rest[2])
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func openStore(ctx context.Context, path string) (storehouse.Store, error) {
	cfg := config.Config{Type: config.TypePosix}
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return config.NewStore(ctx, cfg)
}

func parseWhence(s string) (int, error) {
	switch s {
	case "start":
		return io.SeekStart, nil
	case "current":
		return io.SeekCurrent, nil
	case "end":
		return io.SeekEnd, nil
	default:
		return 0, fmt.Errorf("invalid whence %q: %w", s, storehouse.ErrInvalidArgument)
	}
}

func cat(ctx context.Context, store storehouse.Store, name string, opts options, stdout io.Writer) error {
	whence, err := parseWhence(opts.whence)
	if err != nil {
		return err
	}

	var r *storehouse.Reader
	if opts.backoff {
		r, err = storehouse.OpenWithBackoff(ctx, store, name, storehouse.DefaultBackoff())
	} else {
		r, err = storehouse.Open(ctx, store, name)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w (%s)", name, err, storehouse.ResultOf(err))
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Seek(opts.offset, whence); err != nil {
		return err
	}

	data, err := r.ReadChunk(storehouse.ReadN(opts.length))
	if err != nil {
		return fmt.Errorf("read %s: %w (%s)", name, err, storehouse.ResultOf(err))
	}

	log.WithFields(log.Fields{
		"name":   name,
		"bytes":  len(data),
		"cursor": r.Tell(),
	}).Debug("read complete")

	_, err = stdout.Write(data)
	return err
}

type statOutput struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Exists bool   `json:"exists"`
	IsDir  bool   `json:"is_dir"`
}

func stat(ctx context.Context, store storehouse.Store, name string, stdout io.Writer) error {
	info, err := store.Stat(ctx, name)
	if err != nil {
		return fmt.Errorf("stat %s: %w (%s)", name, err, storehouse.ResultOf(err))
	}
	return jsoniter.NewEncoder(stdout).Encode(statOutput{
		Name:   name,
		Size:   info.Size,
		Exists: info.Exists,
		IsDir:  info.IsDir,
	})
}

func put(ctx context.Context, store storehouse.Store, name, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := store.Put(ctx, name, f); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	log.WithField("name", name).Info("stored")
	return nil
}
