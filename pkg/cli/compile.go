package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/webcompile/pkg/compilation"
)

func newCompileCommand() *Command {
	cmd := &Command{
		Name:        "compile",
		Description: "Build site paths through the cache and report the results",
		Flags:       flag.NewFlagSet("compile", flag.ExitOnError),
		Run:         runCompile,
	}

	addSiteFlags(cmd.Flags)
	cmd.Flags.Bool("batch", false, "Batch compile each argument as a directory")

	return cmd
}

func runCompile(args []string) error {
	cmd := newCompileCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	paths := cmd.Flags.Args()
	if len(paths) == 0 {
		return fmt.Errorf("at least one site path is required")
	}

	ctx := context.Background()
	a, _, err := openApp(ctx, cmd.Flags, "")
	if err != nil {
		return err
	}
	defer a.Close()

	batch := flagBool(cmd.Flags, "batch")
	failed := 0
	for _, p := range paths {
		vpath := compilation.CleanPath(p)
		if batch {
			compiled, err := a.Manager.BatchCompileDirectory(ctx, nil, vpath, false)
			if err != nil {
				failed++
				printBuildError(err)
				continue
			}
			fmt.Printf("%s: batch compiled=%t\n", vpath, compiled)
			continue
		}

		r, err := a.Manager.GetOrBuild(ctx, nil, vpath)
		if err != nil {
			failed++
			printBuildError(err)
			continue
		}
		line := fmt.Sprintf("%s: %s", vpath, r.Kind())
		if asm := r.Assembly(); asm.Name != "" {
			line += " " + asm.Name
		}
		if typeName := r.TypeName(); typeName != "" {
			line += " " + typeName
		}
		fmt.Println(line)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d paths failed", failed, len(paths))
	}
	return nil
}
