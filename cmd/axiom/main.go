// Command axiom drives filesystems mounted on an axiomd server.
//
// Usage:
//
//	axiom [-server ws://localhost:8000] [-codec json] <command> [args]
//
// Paths are absolute ("home:/docs/a.txt"); the root selects the mount.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/infrastructure/logging"
)

const usage = `usage: axiom [flags] <command> [args]

commands:
  stat PATH            print a node's stat
  ls PATH              list a directory
  mkdir PATH           create a directory
  rm PATH              unlink a node
  mv FROM TO           move a node
  ln FROM TO           alias FROM as TO
  cat PATH             write a file to stdout
  put PATH             write stdin to a file
  exec PATH [k=v ...]  run an executable with stdin and stdout attached
  glob PATTERN         expand a pattern such as home:/**/*.js
  mounts               list the server's mounts
  health               print the server status
  archive ROOT[:/DIR]  write a tree as .tar.gz to stdout

flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("server", envOr("AXIOM_SERVER", "ws://localhost:8000"), "Server URL")
	codec := flag.String("codec", envOr("AXIOM_CODEC", "json"), "Wire codec (json or cbor)")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	logger, err := logging.New(logging.CLIConfig(*verbose))
	if err != nil {
		logger = logging.NewNop()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(*server, *codec, *timeout, logger.Component("cli"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "axiom: %v\n", err)
		return 2
	}
	defer c.close()

	if err := c.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		c.logger.Debug("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		fmt.Fprintf(os.Stderr, "axiom: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
