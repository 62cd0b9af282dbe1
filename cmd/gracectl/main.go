// gracectl manages a running gracegated: rules, grace periods and the
// hourly quota.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/haukened/gracegate/internal/access/gateways/client"
)

const defaultServer = "http://127.0.0.1:8088"

type globals struct {
	server  string
	output  string
	timeout time.Duration
}

// env is what a command runs against.
type env struct {
	ctx    context.Context
	client *client.Client
	out    io.Writer
	format string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var g globals
	fs := pflag.NewFlagSet("gracectl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&g.server, "server", "s", envOr("GRACECTL_SERVER", defaultServer), "gracegated base URL")
	fs.StringVarP(&g.output, "output", "o", "table", "output format: table, json or yaml")
	fs.DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")
	help := fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n\n", err)
		printUsage(stderr, fs)
		return 2
	}
	rest := fs.Args()
	if *help || len(rest) == 0 {
		printUsage(stderr, fs)
		if *help {
			return 0
		}
		return 2
	}
	if !validFormat(g.output) {
		fmt.Fprintf(stderr, "error: unknown output format %q\n", g.output)
		return 2
	}

	c, err := client.New(g.server, nil)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	e := env{ctx: ctx, client: c, out: stdout, format: g.output}
	if err := root().dispatch(e, rest); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if code, ok := err.(interface{ ExitCode() int }); ok {
			return code.ExitCode()
		}
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

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: gracectl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	root().printCommands(w, "  ")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
}
