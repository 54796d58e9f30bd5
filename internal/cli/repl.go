// Package cli implements the interactive console shown while the
// server runs: open the browser, inspect or change the served path
// and index, or quit.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/browser"
)

// Controller is the part of the running service the console drives.
type Controller interface {
	URL() string
	Base() string
	Index() string
	SetBase(path string) error
	SetIndex(path string) error
}

const helpText = `Commands:
  help,  h            show this help
  open,  o            open the served site in the browser
  path,  p            print the directory or file being served
  index, i            print the current index document
  url,   u            print the server URL
  clear, c            clear the screen
  quit,  q            stop the server and exit
  set path {PATH}     serve a different directory or file  (alias: sp)
  set index {PATH}    redirect the root path elsewhere     (alias: si)`

const clearScreen = "\x1B[2J\x1B[1;1H"

// REPL reads commands from in and writes responses to out until the
// context is done or the user quits.
type REPL struct {
	ctrl   Controller
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	// openBrowser is swapped out in tests.
	openBrowser func(url string) error
}

// New builds a console bound to the given controller and streams.
func New(ctrl Controller, in io.Reader, out io.Writer, logger *slog.Logger) *REPL {
	if logger == nil {
		logger = slog.Default()
	}
	return &REPL{
		ctrl:        ctrl,
		in:          in,
		out:         out,
		logger:      logger,
		openBrowser: browser.OpenURL,
	}
}

// Run processes lines until EOF, a quit command or context
// cancellation. It returns nil on a clean quit.
func (r *REPL) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			quit, err := r.HandleLine(line)
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// HandleLine executes a single console command. It reports whether the
// command asked to quit.
func (r *REPL) HandleLine(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help", "h":
		fmt.Fprintln(r.out, helpText)
	case "open", "o":
		if err := r.openBrowser(r.ctrl.URL()); err != nil {
			return false, fmt.Errorf("open browser: %w", err)
		}
	case "path", "p":
		fmt.Fprintln(r.out, r.ctrl.Base())
	case "index", "i":
		fmt.Fprintln(r.out, r.ctrl.Index())
	case "url", "u":
		fmt.Fprintln(r.out, r.ctrl.URL())
	case "clear", "c":
		fmt.Fprint(r.out, clearScreen)
	case "quit", "q", "exit":
		return true, nil
	case "set":
		return false, r.handleSet(args)
	case "sp":
		return false, r.handleSet(append([]string{"path"}, args...))
	case "si":
		return false, r.handleSet(append([]string{"index"}, args...))
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (r *REPL) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set path|index {PATH}")
	}
	target := strings.Join(args[1:], " ")

	switch strings.ToLower(args[0]) {
	case "path":
		if err := r.ctrl.SetBase(target); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "serving %s\n", r.ctrl.Base())
	case "index":
		if err := r.ctrl.SetIndex(target); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "index is %s\n", r.ctrl.Index())
	default:
		return fmt.Errorf("unknown setting %q, try help", args[0])
	}
	return nil
}
