package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/app"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/config"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// compilerService replaces the configured compiler backend when set
var compilerService compilation.CompilerService

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "webcompile-cli",
		Description: "webcompile - site precompilation and codegen maintenance",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("webcompile-cli", flag.ExitOnError),
	}

	root.Subcommands["precompile"] = newPrecompileCommand()
	root.Subcommands["compile"] = newCompileCommand()
	root.Subcommands["clean"] = newCleanCommand()
	root.Subcommands["history"] = newHistoryCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the command with explicit arguments
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// addSiteFlags registers the flags shared by commands that load a site
func addSiteFlags(fs *flag.FlagSet) {
	fs.String("config", getEnv("WEBCOMPILE_CONFIG", "webcompile.yaml"), "Path to the YAML configuration file")
	fs.String("site", "", "Site root directory (overrides the configuration)")
	fs.String("codegen", "", "Codegen directory (overrides the configuration)")
	fs.String("log-level", "warn", "Log level")
}

// loadConfig reads the configuration named by -config and applies the
// -site and -codegen overrides
func loadConfig(fs *flag.FlagSet) (*config.Config, *logrus.Logger, error) {
	logger, err := observability.NewLogger(observability.ParseLevel(flagValue(fs, "log-level")), "text", os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(flagValue(fs, "config"))
	if err != nil {
		return nil, nil, err
	}
	if site := flagValue(fs, "site"); site != "" {
		cfg.Site.Root = site
	}
	if codegen := flagValue(fs, "codegen"); codegen != "" {
		cfg.Site.CodegenDir = codegen
	}
	return cfg, logger, nil
}

// openApp loads the configuration and assembles a compilation host. A
// non-empty target assembles a precompiler writing there.
func openApp(ctx context.Context, fs *flag.FlagSet, target string) (*app.App, *logrus.Logger, error) {
	cfg, logger, err := loadConfig(fs)
	if err != nil {
		return nil, nil, err
	}
	cfg.Site.Watch = false
	cfg.Compilation.KeepGeneratedFiles = cfg.Compilation.KeepGeneratedFiles || logger.IsLevelEnabled(logrus.DebugLevel)

	a, err := app.New(ctx, cfg, app.Options{
		Logger:           logger,
		Compiler:         compilerService,
		PrecompileTarget: target,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, logger, nil
}

// printBuildError writes one line per diagnostic of a build failure
func printBuildError(err error) {
	var ce *compilation.CompileError
	var list *compilation.ErrorList
	switch {
	case errors.As(err, &list):
		for _, e := range list.Errors() {
			printBuildError(e)
		}
	case errors.As(err, &ce) && len(ce.Diagnostics) > 0:
		for _, d := range ce.Diagnostics {
			fmt.Fprintf(os.Stderr, "%s\n", d)
		}
	default:
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}

func flagValue(fs *flag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func flagBool(fs *flag.FlagSet, name string) bool {
	return flagValue(fs, name) == "true"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
