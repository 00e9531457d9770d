// File: cmd/stepdriver/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/stepdriver/cmd"
	"github.com/xkilldash9x/stepdriver/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
  stepdriver %s
  Type a command (run, parse, version, help) or "exit".

`

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit = os.Exit
)

// main is the entry point of the application.
func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// If arguments are passed, execute the command directly and exit.
	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(130)
			} else {
				osExit(1)
			}
		}
		return
	}

	if err := interactive(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// interactive reads commands line by line until EOF or "exit".
func interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, banner, cmd.Version)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "stepdriver > ")
		if !scanner.Scan() {
			break // Exit on EOF (Ctrl+D)
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, line, out)
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintln(out, "Exiting stepdriver.")
	return scanner.Err()
}

// executeInteractiveCommand parses and runs one line from the interactive shell.
func executeInteractiveCommand(ctx context.Context, line string, out io.Writer) {
	// A fresh command per line keeps flags from one command out of the next.
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(splitArgs(line))
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "Error: command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// In interactive mode, we print the error but do not exit the shell.
		fmt.Fprintln(out, "Error:", err)
	}
}

// splitArgs splits a command line on whitespace, keeping single- or
// double-quoted sections together so steps can be typed verbatim.
func splitArgs(line string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			if inArg && cur.Len() > 0 {
				// An apostrophe inside a word, e.g. don't.
				cur.WriteRune(r)
				continue
			}
			quote, inArg = r, true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args
}

// handlePanic logs an unrecovered panic to panic.log and exits non-zero.
func handlePanic() {
	if r := recover(); r != nil {
		// Ensure logs are flushed before proceeding.
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
			// If logging fails, print to stderr as a fallback.
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			osExit(2)
			return // Return facilitates testing when osExit is mocked.
		}
		fmt.Fprintf(os.Stderr, "stepdriver crashed. Details logged to %s\n", panicLogFile)
		osExit(2)
	}
}
