package cli

import (
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
)

func newCleanCommand() *Command {
	cmd := &Command{
		Name:        "clean",
		Description: "Remove generated files from the codegen directory",
		Flags:       flag.NewFlagSet("clean", flag.ExitOnError),
		Run:         runClean,
	}

	addSiteFlags(cmd.Flags)
	cmd.Flags.Bool("all", false, "Remove every assembly and record, not only stale temporary files")
	cmd.Flags.Duration("max-age", time.Hour, "Age after which temporary files are removed")

	return cmd
}

func runClean(args []string) error {
	cmd := newCleanCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(cmd.Flags)
	if err != nil {
		return err
	}
	disk, err := cache.NewDiskTier(cache.DiskConfig{Dir: cfg.Site.CodegenDir, Logger: logger})
	if err != nil {
		return err
	}

	if flagBool(cmd.Flags, "all") {
		if err := disk.RemoveAllCodegenFiles(); err != nil {
			return fmt.Errorf("failed to remove generated files: %w", err)
		}
		fmt.Printf("Removed generated files from %s\n", disk.Dir())
	}

	maxAge, err := time.ParseDuration(flagValue(cmd.Flags, "max-age"))
	if err != nil {
		return fmt.Errorf("invalid max-age: %w", err)
	}
	temp, err := disk.RemoveOldTempFiles(maxAge)
	if err != nil {
		return fmt.Errorf("failed to remove temporary files: %w", err)
	}
	swept, err := disk.SweepDeleteMarkers()
	if err != nil {
		return fmt.Errorf("failed to sweep delete markers: %w", err)
	}
	fmt.Printf("Removed %d temporary files and %d files marked for deletion\n", temp, swept)
	return nil
}
