// Command sample_archive runs a simulated archive answering C-ECHO, C-FIND,
// C-MOVE and C-STORE, for trying dicomnode against something local.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/internal/archivesim"
	"github.com/caio-sobreiro/dicomnode/logging"
	"github.com/caio-sobreiro/dicomnode/server"
)

// destinations collects repeated -dest AE=host:port flags.
type destinations map[string]string

func (d destinations) String() string {
	var parts []string
	for ae, addr := range d {
		parts = append(parts, ae+"="+addr)
	}
	return strings.Join(parts, ",")
}

func (d destinations) Set(value string) error {
	ae, addr, ok := strings.Cut(value, "=")
	if !ok || ae == "" || addr == "" {
		return fmt.Errorf("want AE=host:port, got %q", value)
	}
	d[ae] = addr
	return nil
}

func main() {
	port := flag.Int("port", 4242, "TCP port to listen on")
	aeTitle := flag.String("ae", "SAMPLE_SCP", "Archive AE title")
	load := flag.String("load", "", "Directory of Part 10 files to serve")
	patients := flag.Int("patients", 2, "Synthetic patients to generate when -load is empty")
	studies := flag.Int("studies", 2, "Synthetic studies per patient")
	series := flag.Int("series", 2, "Synthetic series per study")
	images := flag.Int("images", 3, "Synthetic images per series")
	matchDelay := flag.Duration("match-delay", 0, "Pause before every C-FIND match and C-MOVE sub-operation")
	logLevel := flag.String("log-level", "debug", "Log level")
	logFile := flag.String("log-file", "", "Rotated log file")
	dests := destinations{}
	flag.Var(dests, "dest", "C-MOVE destination as AE=host:port (repeatable)")
	flag.Parse()

	logger, closer := logging.New(logging.Options{Level: *logLevel, File: *logFile})
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archive := archivesim.New(*aeTitle,
		archivesim.WithLogger(logger),
		archivesim.WithMatchDelay(*matchDelay))
	for ae, addr := range dests {
		archive.AddDestination(ae, addr)
	}

	if *load != "" {
		n, err := loadDir(archive, *load)
		if err != nil {
			logger.Error("Failed to load DICOM files", "dir", *load, "error", err)
			os.Exit(1)
		}
		logger.Info("Loaded DICOM files", "dir", *load, "instances", n)
	} else {
		archivesim.Populate(archive, *patients, *studies, *series, *images)
		logger.Info("Generated synthetic instances", "instances", archive.Len())
	}

	address := fmt.Sprintf(":%d", *port)
	err := server.ListenAndServe(ctx, address, *aeTitle, archive.Handler(),
		server.WithLogger(logger),
		server.WithTimeout(30*time.Second))
	switch {
	case err == nil:
		logger.Info("Sample archive shutdown complete")
	case errors.Is(err, context.Canceled):
		logger.Info("Sample archive stopped", "reason", err.Error())
	default:
		logger.Error("Sample archive terminated unexpectedly", "error", err)
		os.Exit(1)
	}
}

// loadDir adds every readable Part 10 file under dir to the archive.
func loadDir(archive *archivesim.Archive, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		f, err := dicom.ReadPart10File(path)
		if err != nil {
			slog.Warn("Skipping file", "path", path, "error", err)
			return nil
		}
		ds, err := f.Parse()
		if err != nil {
			slog.Warn("Skipping unparsable file", "path", path, "error", err)
			return nil
		}
		archive.Add(ds)
		n++
		return nil
	})
	return n, err
}
