package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"teemux/internal/config"
)

func binaryName() string {
	if len(os.Args) == 0 {
		return "teemux"
	}
	name := strings.TrimSpace(filepath.Base(os.Args[0]))
	if name == "" {
		return "teemux"
	}
	return name
}

const sharedOptions = `  --config <file>         Config file, JSON or YAML
  -p, --port <n>          Shared port (default: %d, env TEEMUX_PORT)
  --host <host>           Listen host when serving (default: %s)
  -t, --tail <n>          Lines kept in the buffer (default: %d)
  --redis-url <url>       Publish source presence to redis
  --log-file <file>       Append status lines to this file
  --client-bundle <file>  Viewer script served to browsers
  --debug                 Print debug status lines
`

func printShared(w io.Writer) {
	fmt.Fprintf(w, sharedOptions, config.DefaultPort, config.DefaultHost, config.DefaultTail)
}

func printRootUsage(w io.Writer) {
	bin := binaryName()
	fmt.Fprintf(w, `%s - aggregate the output of several processes into one live view

Usage:
  %s [options] [--] <command> [args...]
  %s serve [options]
  %s shutdown [options]
  %s version

The first process to bind the port serves the viewer at http://127.0.0.1:<port>/;
later ones forward their output to it. Every process keeps printing its own output.

Options:
  -n, --name <name>       Label for the wrapped process (default: command name)
  --force-leader          Shut down a running server and take its port
`, bin, bin, bin, bin, bin)
	printShared(w)
}

func printServeUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage:
  %s serve [options]

Runs only the aggregation server until interrupted or asked to shut down.

Options:
`, binaryName())
	printShared(w)
}

func printShutdownUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage:
  %s shutdown [options]

Asks the server on the shared port to stop.

Options:
`, binaryName())
	printShared(w)
}
