package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/webcompile/pkg/history"
)

func newHistoryCommand() *Command {
	cmd := &Command{
		Name:        "history",
		Description: "List recent compilations from the build history",
		Flags:       flag.NewFlagSet("history", flag.ExitOnError),
		Run:         runHistory,
	}

	addSiteFlags(cmd.Flags)
	cmd.Flags.Int("limit", 20, "Maximum number of builds to list")
	cmd.Flags.String("assembly", "", "Only list builds of this assembly")
	cmd.Flags.Bool("failed", false, "Only list failed builds")

	return cmd
}

func runHistory(args []string) error {
	cmd := newHistoryCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(cmd.Flags)
	if err != nil {
		return err
	}
	if cfg.History.Driver == "" {
		return fmt.Errorf("build history is not configured")
	}

	ctx := context.Background()
	store, err := history.Open(ctx, history.Dialect(cfg.History.Driver), cfg.History.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, err := strconv.Atoi(flagValue(cmd.Flags, "limit"))
	if err != nil {
		return fmt.Errorf("invalid limit: %w", err)
	}
	filter := history.Filter{
		Assembly: flagValue(cmd.Flags, "assembly"),
		Limit:    limit,
	}
	if flagBool(cmd.Flags, "failed") {
		success := false
		filter.Success = &success
	}

	records, err := store.Search(ctx, filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tASSEMBLY\tLANGUAGE\tUNITS\tSTATUS\tDURATION")
	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = fmt.Sprintf("failed (%d errors)", rec.Errors)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Assembly,
			rec.Language,
			len(rec.Units),
			status,
			rec.Duration.Round(time.Millisecond),
		)
	}
	return w.Flush()
}
