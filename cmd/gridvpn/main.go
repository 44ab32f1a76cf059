package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gridvpn/internal/core"
)

// Build info, injected via ldflags at compile time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// errUsage makes main print the usage text.
var errUsage = errors.New("usage")

func main() {
	configPath := flag.String("config", "gridvpn.yaml", "Path to configuration file")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Printf("gridvpn %s (commit=%s, built=%s)\n", version, commit, buildDate)
		return
	}

	bus := core.NewEventBus()
	cm := core.NewConfigManager(resolveRelativeToExe(*configPath), bus)
	if err := cm.Load(); err != nil {
		fatal("load config: %v", err)
	}
	logCfg := cm.Get().Logging
	if *verbose {
		logCfg.Level = "debug"
	}
	core.Log.Configure(logCfg)

	app := &app{cm: cm, bus: bus}
	if err := app.dispatch(args[0], args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
			os.Exit(2)
		}
		fatal("%v", err)
	}
}

type app struct {
	cm  *core.ConfigManager
	bus *core.EventBus
}

func (a *app) dispatch(cmd string, args []string) error {
	switch cmd {
	case "add":
		return a.runAdd(args)
	case "list":
		return a.runList()
	case "remove":
		return a.runRemove(args)
	case "select":
		return a.runSelect(args)
	case "import":
		return a.runImport(args)
	case "render":
		return a.runRender(args)
	case "connect":
		return a.runConnect(args)
	case "probe":
		return a.runProbe(args)
	case "off":
		return a.runOff()
	default:
		return fmt.Errorf("unknown command %q (run without arguments for help)", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `gridvpn - proxy link manager and engine supervisor

Usage: gridvpn [-config FILE] [-v] <command> [args]

Links:
  add <uri> [name]        Store a vless://, vmess:// or trojan:// link
  list                    List stored links (* marks the selection)
  remove <n>              Remove link n
  select <n>              Select link n for connect
  import <paths.json>     Import links from a JSON array of URIs

Engine:
  render [n|uri]          Print the engine config for a link
  connect [n|uri]         Start the engine and enable the system proxy
                          until interrupted
  probe [host:port]       Check connectivity through the local listener
  off                     Disable the system proxy left by a killed session

  version                 Print version`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}

// resolveRelativeToExe resolves a relative path against the executable's
// directory so the config lives next to the binary.
func resolveRelativeToExe(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		core.Log.Warnf("Core", "Cannot determine executable path, using %q as-is: %v", path, err)
		return path
	}
	return filepath.Join(filepath.Dir(exe), path)
}
