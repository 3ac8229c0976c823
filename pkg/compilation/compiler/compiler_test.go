package compiler

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Defaults(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, 2, r.Count())

	cs, err := r.Get(LanguageCSharp)
	require.NoError(t, err)
	assert.Equal(t, "mono:6.12", cs.FullDockerImage())

	vb, err := r.ForExtension(".VB")
	require.NoError(t, err)
	assert.Equal(t, LanguageVB, vb.ID)

	_, err = r.ForExtension(".fs")
	assert.ErrorIs(t, err, ErrLanguageNotFound)

	_, err = r.Get("fsharp")
	assert.ErrorIs(t, err, ErrLanguageNotFound)

	ids := []string{}
	for _, spec := range r.List() {
		ids = append(ids, spec.ID)
	}
	assert.Equal(t, []string{"csharp", "vb"}, ids)
}

func TestRegistry_RegisterAndUpdate(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		spec *LanguageSpec
		err  error
	}{
		{"missing ID", &LanguageSpec{Name: "X", Command: "x"}, ErrInvalidLanguageID},
		{"missing name", &LanguageSpec{ID: "x", Command: "x"}, ErrInvalidLanguageName},
		{"missing command", &LanguageSpec{ID: "x", Name: "X"}, ErrInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Register(tt.spec), tt.err)
		})
	}

	spec := &LanguageSpec{ID: "jscript", Name: "JScript", Command: "jsc", Extensions: []string{".js"}}
	require.NoError(t, r.Register(spec))
	assert.ErrorIs(t, r.Register(spec), ErrLanguageAlreadyExists)

	_, err := r.Get("jscript")
	assert.ErrorIs(t, err, ErrLanguageDisabled)

	enabled := *spec
	enabled.Enabled = true
	require.NoError(t, r.Update(&enabled))
	_, err = r.Get("jscript")
	assert.NoError(t, err)

	assert.ErrorIs(t, r.Update(&LanguageSpec{ID: "nope", Name: "N", Command: "n"}), ErrLanguageNotFound)
}

func TestBuildArgs(t *testing.T) {
	spec := getCSharpLanguageSpec()
	req := &compilation.CompileRequest{
		Language:    LanguageCSharp,
		SourceFiles: []string{"/gen/a.cs", "/site/App_Code/b.cs"},
		Resources:   []string{"/gen/strings.resources"},
		References:  []string{"/codegen/App_Code.dll"},
		OutputPath:  "/codegen/App_Web_x.dll",
		Options:     compilation.CompilerOptions{Debug: true, WarningLevel: 4, Flags: []string{"-define:TRACE"}},
	}

	assert.Equal(t, []string{
		"csc", "-nologo", "-target:library",
		"-debug+", "-optimize-",
		"-warn:4",
		"-define:TRACE",
		"-out:/codegen/App_Web_x.dll",
		"-r:/codegen/App_Code.dll",
		"-resource:/gen/strings.resources",
		"/gen/a.cs", "/site/App_Code/b.cs",
	}, BuildArgs(spec, req, nil))

	mapped := BuildArgs(getVBLanguageSpec(), &compilation.CompileRequest{
		SourceFiles: []string{"/gen/a.vb"},
		OutputPath:  "/codegen/x.dll",
	}, func(p string) string { return "/input/" + filepath.Base(p) })
	assert.Equal(t, []string{
		"vbc", "-nologo", "-target:library",
		"-debug-", "-optimize+",
		"-out:/input/x.dll",
		"/input/a.vb",
	}, mapped)
}

func TestParseDiagnostics(t *testing.T) {
	output := `Microsoft (R) Visual C# Compiler
/codegen/sources_x/u1_1_a.aspx.cs(12,5): error CS1002: ; expected
/codegen/sources_x/u2_2_b.aspx.cs(3): warning CS0168: The variable 'e' is declared but never used
error CS2001: Source file 'missing.cs' could not be found
csc: error CS0016: Could not write to output file '/codegen/x.dll'
Compilation failed: 3 error(s), 1 warnings
`
	diags := ParseDiagnostics(output)
	require.Len(t, diags, 4)

	assert.Equal(t, compilation.Diagnostic{
		File: "/codegen/sources_x/u1_1_a.aspx.cs", Line: 12, Column: 5,
		Severity: compilation.SeverityError, Code: "CS1002", Message: "; expected",
	}, diags[0])
	assert.Equal(t, compilation.SeverityWarning, diags[1].Severity)
	assert.Equal(t, 3, diags[1].Line)
	assert.Zero(t, diags[1].Column)
	assert.Equal(t, "CS2001", diags[2].Code)
	assert.Empty(t, diags[2].File)
	assert.Equal(t, "CS0016", diags[3].Code)

	assert.True(t, hasErrors(diags))
	assert.False(t, hasErrors(diags[1:2]))
	assert.Empty(t, ParseDiagnostics(""))
}

func shellCompiler(t *testing.T, script string) *ExecCompiler {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	c := NewExecCompiler(NewDefaultRegistry(), 10*time.Second, logger)
	c.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		// the real argument list is exposed to the script as "$@"
		return exec.CommandContext(ctx, "sh", append([]string{"-c", script, name}, args...)...)
	}
	return c
}

func TestExecCompiler_Success(t *testing.T) {
	out := filepath.Join(t.TempDir(), "App_Web_x.dll")
	c := shellCompiler(t, `for a in "$@"; do case "$a" in -out:*) echo MZ > "${a#-out:}";; esac; done; echo "a.cs(1,1): warning CS0168: unused"`)

	resp, err := c.Compile(context.Background(), &compilation.CompileRequest{
		Language:    LanguageCSharp,
		SourceFiles: []string{"a.cs"},
		OutputPath:  out,
	})
	require.NoError(t, err)
	assert.False(t, resp.Failed())
	assert.Equal(t, out, resp.AssemblyPath)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, compilation.SeverityWarning, resp.Diagnostics[0].Severity)
}

func TestExecCompiler_Failure(t *testing.T) {
	c := shellCompiler(t, `echo "a.cs(2,3): error CS1002: ; expected"; exit 1`)

	resp, err := c.Compile(context.Background(), &compilation.CompileRequest{
		Language:   LanguageCSharp,
		OutputPath: filepath.Join(t.TempDir(), "x.dll"),
	})
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	assert.Equal(t, 1, resp.ExitCode)
	require.Len(t, resp.Errors(), 1)
	assert.Equal(t, "CS1002", resp.Errors()[0].Code)
}

func TestExecCompiler_NoOutput(t *testing.T) {
	c := shellCompiler(t, `exit 0`)

	resp, err := c.Compile(context.Background(), &compilation.CompileRequest{
		Language:   LanguageCSharp,
		OutputPath: filepath.Join(t.TempDir(), "x.dll"),
	})
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	assert.Len(t, resp.Errors(), 1)
}

func TestExecCompiler_UnknownLanguage(t *testing.T) {
	c := NewExecCompiler(NewDefaultRegistry(), time.Second, nil)
	_, err := c.Compile(context.Background(), &compilation.CompileRequest{Language: "cobol"})
	assert.ErrorIs(t, err, ErrLanguageNotFound)
}

func TestStageInputs(t *testing.T) {
	src := t.TempDir()
	a := filepath.Join(src, "one", "a.cs")
	b := filepath.Join(src, "two", "a.cs")
	for _, p := range []string{a, b} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("class A {}"), 0644))
	}

	input := t.TempDir()
	s, err := stageInputs(&compilation.CompileRequest{
		SourceFiles: []string{a, b},
		OutputPath:  "/codegen/App_Web_x.dll",
	}, input)
	require.NoError(t, err)

	assert.Equal(t, "/input/src/a.cs", s.containerPath(a))
	assert.Equal(t, "/input/src/1_a.cs", s.containerPath(b), "name collisions are disambiguated")
	assert.Equal(t, "/output/App_Web_x.dll", s.containerPath("/codegen/App_Web_x.dll"))
	assert.FileExists(t, filepath.Join(input, "src", "1_a.cs"))
}

func TestDefaultDockerConfig(t *testing.T) {
	cfg := DefaultDockerConfig()
	assert.Equal(t, int64(1024*1024*1024), cfg.MemoryLimit)
	assert.Equal(t, 1.0, cfg.CPULimit)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
}
