package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	logsFollow bool
	logsTail   int
)

var logsCmd = &cobra.Command{
	Use:   "logs [SERVICE...]",
	Short: "View output from containers",
	Long: `View output from containers. If no service is specified, shows logs from all services.

Each line is prefixed with the service name. When both services are shown,
their lines are interleaved as they arrive.

Without --follow, prints the last N lines (default 100) and exits.
With --follow, streams new lines until interrupted (Ctrl+C).

Flags:
  --follow         Stream logs continuously (like tail -f)
  --tail <n>       Number of historical lines to show (default: 100, -1 for all)
  -p <name>        Override project name

Examples:
  agentstack logs                   Both services, last 100 lines
  agentstack logs backend           Logs from the backend only
  agentstack logs --follow backend  Stream backend logs continuously
  agentstack logs --tail 20         Last 20 lines from both services`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Follow log output")
	logsCmd.Flags().IntVar(&logsTail, "tail", 100, "Number of lines to show from the end")
}

func runLogs(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	proj, err := loadProject(false)
	if err != nil {
		return err
	}
	names := stack.Names(proj.declared())
	if len(args) > 0 {
		known := make(map[string]bool, len(names))
		for _, n := range names {
			known[n] = true
		}
		for _, a := range args {
			if !known[a] {
				return fmt.Errorf("no such service: %s", a)
			}
		}
		names = args
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = dockerClient.Close() }()

	tail := "all"
	if logsTail >= 0 {
		tail = strconv.Itoa(logsTail)
	}
	return <-streamLogs(ctx, dockerClient, proj.Name, names, logsFollow, tail)
}

type logSource interface {
	ContainerLogs(ctx context.Context, name string, follow bool, tail string, stdout, stderr io.Writer) error
}

// streamLogs copies the logs of every service to stdout, one goroutine per
// service. The returned channel yields the first error once all streams end.
func streamLogs(ctx context.Context, src logSource, project string, services []string, follow bool, tail string) <-chan error {
	done := make(chan error, 1)
	width := 0
	for _, s := range services {
		if len(s) > width {
			width = len(s)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		out := newPrefixWriter(os.Stdout, &mu, fmt.Sprintf("%-*s | ", width, svc))
		g.Go(func() error {
			defer out.Flush()
			err := src.ContainerLogs(gctx, docker.ContainerName(project, svc), follow, tail, out, out)
			if err != nil && ctx.Err() == nil {
				logging.Warn("logs", "Log stream of %s ended: %v", svc, err)
				return err
			}
			return nil
		})
	}
	go func() { done <- g.Wait() }()
	return done
}

// prefixWriter writes complete lines to out with a prefix. Writers sharing
// mu never interleave within a line.
type prefixWriter struct {
	out    io.Writer
	mu     *sync.Mutex
	prefix []byte
	buf    bytes.Buffer
}

func newPrefixWriter(out io.Writer, mu *sync.Mutex, prefix string) *prefixWriter {
	return &prefixWriter{out: out, mu: mu, prefix: []byte(prefix)}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			w.buf.Reset()
			w.buf.Write(line)
			return len(p), nil
		}
		if err := w.emit(line); err != nil {
			return 0, err
		}
	}
}

// Flush writes a trailing partial line, if any.
func (w *prefixWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	_ = w.emit(line)
}

func (w *prefixWriter) emit(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(w.prefix); err != nil {
		return err
	}
	_, err := w.out.Write(line)
	return err
}
