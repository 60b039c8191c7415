// modhook CLI - rewrites host class files and jars with event call-outs and
// accessors configured in modhook.toml
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

const versionStr = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: modhook [-v] <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  transform [-config dir] [-o out] [-report file.cbor] input.(jar|class)\n")
	fmt.Fprintf(os.Stderr, "  dump [-method name] file.class\n")
	fmt.Fprintf(os.Stderr, "  graph [-config dir] [-method name] [-o out.dot] file.class\n")
	fmt.Fprintf(os.Stderr, "  symbols [-o cache.cbor] [-profile p] mapping.(toml|json|cbor)...\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  modhook transform client.jar              # writes build/client.jar\n")
	fmt.Fprintf(os.Stderr, "  modhook dump -method damage Player.class\n")
	fmt.Fprintf(os.Stderr, "  modhook graph -method damage Player.class | dot -Tsvg > damage.svg\n")
	fmt.Fprintf(os.Stderr, "  modhook symbols -o .modhook/symbols.cbor maps/*.toml\n")
}

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 errors and warnings, 1 info, 2 debug)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("modhook version %s\n", versionStr)
		os.Exit(0)
	}
	commonlog.Configure(*verbose+1, nil)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "transform":
		err = handleTransformCommand(args[1:])
	case "dump":
		err = handleDumpCommand(args[1:])
	case "graph":
		err = handleGraphCommand(args[1:])
	case "symbols":
		err = handleSymbolsCommand(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
