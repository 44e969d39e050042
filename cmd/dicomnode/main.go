// Command dicomnode tests, queries, retrieves from and sends to DICOM
// archives registered in the local device database.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/caio-sobreiro/dicomnode/config"
	"github.com/caio-sobreiro/dicomnode/devicestore"
	"github.com/caio-sobreiro/dicomnode/jobs"
	"github.com/caio-sobreiro/dicomnode/logging"
	"github.com/caio-sobreiro/dicomnode/session"
)

var commands []cli.Command
var version string // Set by build environment

func main() {
	app := cli.NewApp()
	app.Usage = "DICOM archive client"
	app.Commands = commands
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "HCL configuration file, reloaded when it changes",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Log at debug level",
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// env holds what every command needs: settings, logger and device database.
type env struct {
	provider config.Provider
	logger   *slog.Logger
	store    *devicestore.Store
	closers  []io.Closer
}

func openEnv(c *cli.Context) (*env, error) {
	e := &env{}
	if cfgPath := c.GlobalString("config"); cfgPath != "" {
		fp, err := config.NewFileProvider(cfgPath, nil)
		if err != nil {
			return nil, err
		}
		e.provider = fp
		e.closers = append(e.closers, fp)
	} else {
		settings, err := config.Load("")
		if err != nil {
			return nil, err
		}
		e.provider = config.Static(settings)
	}
	settings := e.provider.Settings()

	level := settings.LogLevel
	if c.GlobalBool("debug") {
		level = "debug"
	}
	logger, closer := logging.New(logging.Options{
		Level:  level,
		Format: "text",
		File:   settings.LogFile,
		Stdout: os.Stderr,
	})
	e.logger = logger
	e.closers = append(e.closers, closer)
	slog.SetDefault(logger)

	store, err := devicestore.Open(settings.DeviceDatabase)
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "open device database failed")
	}
	e.store = store
	e.closers = append(e.closers, store)
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

func (e *env) negotiator() *session.Negotiator {
	return session.NewNegotiator(e.provider, session.WithLogger(e.logger))
}

// run executes j on a job manager and waits for it to end. An interrupt
// cancels the job and waits for it to stop.
func (e *env) run(j jobs.Job) jobs.State {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := jobs.NewManager(e.provider.Settings().Workers, jobs.WithLogger(e.logger))
	done := make(chan jobs.State, 1)
	report := func(j jobs.Job) { done <- j.State() }
	m.Subscribe(jobs.ListenerFuncs{Finished: report, Cancelled: report})
	if err := m.Start(context.Background()); err != nil {
		return jobs.Cancelled
	}
	defer m.Stop()

	id, err := m.Enqueue(j)
	if err != nil {
		return jobs.Cancelled
	}
	select {
	case st := <-done:
		return st
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Interrupted, waiting for the archive to stop")
		m.Cancel(id)
		return <-done
	}
}
