package compiler

import (
	"strconv"

	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// BuildArgs builds the compiler command line for a request. mapPath
// translates host paths, for example into container paths; nil keeps them.
func BuildArgs(spec *LanguageSpec, req *compilation.CompileRequest, mapPath func(string) string) []string {
	if mapPath == nil {
		mapPath = func(p string) string { return p }
	}

	cmd := []string{spec.Command}
	cmd = append(cmd, spec.Flags...)

	if req.Options.Debug {
		cmd = append(cmd, spec.DebugFlags...)
	} else {
		cmd = append(cmd, spec.ReleaseFlags...)
	}
	if spec.WarningPrefix != "" && req.Options.WarningLevel > 0 {
		cmd = append(cmd, spec.WarningPrefix+strconv.Itoa(req.Options.WarningLevel))
	}
	cmd = append(cmd, req.Options.Flags...)

	cmd = append(cmd, "-out:"+mapPath(req.OutputPath))
	for _, ref := range req.References {
		cmd = append(cmd, "-r:"+mapPath(ref))
	}
	for _, res := range req.Resources {
		cmd = append(cmd, "-resource:"+mapPath(res))
	}
	for _, src := range req.SourceFiles {
		cmd = append(cmd, mapPath(src))
	}

	return cmd
}
