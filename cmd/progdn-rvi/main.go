// Command progdn-rvi runs the transparent PROXY-protocol relay: it
// accepts front-end connections carrying a HAProxy PROXY v1 preamble and
// forwards each to a backend on loopback, spoofing the original client's
// address as the backend connection's source. See the original's
// main.cpp for the process this binary mirrors: parse CLI flags and
// config, optionally daemonize, raise the fd limit, then serve until
// SIGTERM drains every active session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	relay "github.com/progdn/progdn-rvi"
	"github.com/progdn/progdn-rvi/internal/config"
	"github.com/progdn/progdn-rvi/internal/daemon"
	"github.com/progdn/progdn-rvi/internal/sysutil"
)

// version is printed by --version.
const version = "1.0.0"

const syslogIdentifier = "progdn-rvi"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	confPath := fs.String("conf", "progdn-rvi.conf", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Enable logging to syslog")
	background := fs.Bool("background", false, "Run in background")
	showHelp := fs.Bool("help", false, "Produce help message and exit")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "ProGDN Real Visitor Info Server\n\nAllowed options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showHelp {
		fs.Usage()
		return nil
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		return err
	}

	if *background {
		if err := daemon.Background(); err != nil {
			return err
		}
	}

	if err := sysutil.RaiseNoFileLimit(); err != nil {
		return err
	}

	var log *relay.Logger
	if *verbose {
		log, err = relay.NewSyslogLogger(syslogIdentifier)
		if err != nil {
			return err
		}
	}

	srv := relay.NewServer(cfg, log)
	if err := srv.RunUntilSignal(context.Background()); err != nil && !errors.Is(err, relay.ErrServerClosed) {
		return err
	}
	return nil
}
