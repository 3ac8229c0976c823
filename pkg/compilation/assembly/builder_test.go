package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler is a mock compiler service
type fakeCompiler struct {
	compileFunc func(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error)
	calls       atomic.Int32
	lastRequest *compilation.CompileRequest
}

func (f *fakeCompiler) Compile(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
	f.calls.Add(1)
	f.lastRequest = req
	if f.compileFunc != nil {
		return f.compileFunc(ctx, req)
	}
	if err := os.WriteFile(req.OutputPath, []byte("MZ"), 0644); err != nil {
		return nil, err
	}
	return &compilation.CompileResponse{AssemblyPath: req.OutputPath}, nil
}

func sourceUnit(h compilation.Handle, vpath, code string, refs ...string) *compilation.BuildUnit {
	return &compilation.BuildUnit{
		VirtualPath: vpath,
		Handle:      h,
		Kind:        compilation.KindPage,
		TypeNames:   []string{"ASP." + filepath.Base(vpath)},
		Generator: compilation.GeneratorFunc(func(ctx context.Context, w compilation.SourceWriter) error {
			f, err := w.CreateSource(filepath.Base(vpath) + ".cs")
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.WriteString(f, code); err != nil {
				return err
			}
			for _, r := range refs {
				w.AddReference(r)
			}
			return nil
		}),
	}
}

func newTestBuilder(t *testing.T, compiler compilation.CompilerService, mutate ...func(*Options)) *Builder {
	t.Helper()
	opts := Options{
		Language:   "csharp",
		CodegenDir: t.TempDir(),
		OutputName: "App_Web_test",
		Compiler:   compiler,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewBuilder(opts)
}

func TestBuilder_CompileSuccess(t *testing.T) {
	ctx := context.Background()
	fc := &fakeCompiler{}
	b := newTestBuilder(t, fc, func(o *Options) {
		o.InitialReferences = []string{"/codegen/App_Code.dll", "/gac/System.Web.dll"}
	})

	require.NoError(t, b.AddUnit(ctx, sourceUnit(1, "~/a.aspx", "class A {}", "/codegen/App_Web_x.dll", "/gac/System.Web.dll")))
	require.NoError(t, b.AddUnit(ctx, sourceUnit(2, "~/b.aspx", "class B {}", "/codegen/App_Web_y.dll")))
	assert.True(t, b.HasTypeName("ASP.a.aspx"))
	assert.False(t, b.HasTypeName("ASP.c.aspx"))

	outcome, err := b.Compile(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "App_Web_test", outcome.Assembly.Name)
	assert.Equal(t, b.OutputPath(), outcome.Assembly.Path)
	assert.Equal(t, []string{
		"/codegen/App_Code.dll",
		"/gac/System.Web.dll",
		"/codegen/App_Web_x.dll",
		"/codegen/App_Web_y.dll",
	}, outcome.References)
	assert.Equal(t, []string{"App_Code", "System.Web", "App_Web_x", "App_Web_y"}, outcome.ReferenceNames())
	assert.Len(t, fc.lastRequest.SourceFiles, 2)

	_, err = os.Stat(b.sourceDir)
	assert.True(t, os.IsNotExist(err), "generated sources are removed after compiling")

	_, err = b.Compile(ctx)
	assert.ErrorIs(t, err, ErrAlreadyCompiled)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestBuilder_KeepGeneratedFiles(t *testing.T) {
	ctx := context.Background()
	b := newTestBuilder(t, &fakeCompiler{}, func(o *Options) { o.KeepGeneratedFiles = true })
	require.NoError(t, b.AddUnit(ctx, sourceUnit(1, "~/a.aspx", "class A {}")))
	_, err := b.Compile(ctx)
	require.NoError(t, err)
	assert.DirExists(t, b.sourceDir)
}

func TestBuilder_GeneratorErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	b := newTestBuilder(t, &fakeCompiler{})

	bad := &compilation.BuildUnit{
		VirtualPath: "~/bad.aspx",
		Handle:      1,
		Generator: compilation.GeneratorFunc(func(ctx context.Context, w compilation.SourceWriter) error {
			f, err := w.CreateSource("bad.cs")
			if err != nil {
				return err
			}
			f.Close()
			return errors.New("unexpected token")
		}),
	}

	err := b.AddUnit(ctx, bad)
	var perr *compilation.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "~/bad.aspx", perr.VirtualPath)
	assert.Empty(t, b.Units())

	entries, _ := os.ReadDir(b.sourceDir)
	assert.Empty(t, entries, "files of the failed unit are removed")

	_, err = b.Compile(ctx)
	assert.ErrorIs(t, err, ErrNothingToCompile)
}

func TestBuilder_AttributesDiagnostics(t *testing.T) {
	ctx := context.Background()
	fc := &fakeCompiler{}
	b := newTestBuilder(t, fc)

	require.NoError(t, b.AddUnit(ctx, sourceUnit(1, "~/a.aspx", "class A {}")))
	require.NoError(t, b.AddUnit(ctx, sourceUnit(2, "~/b.aspx", "class B {")))

	fc.compileFunc = func(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
		return &compilation.CompileResponse{
			ExitCode: 1,
			Diagnostics: []compilation.Diagnostic{
				{File: req.SourceFiles[1], Line: 1, Severity: compilation.SeverityError, Code: "CS1513", Message: "} expected"},
				{File: "/somewhere/else.cs", Line: 3, Severity: compilation.SeverityError, Code: "CS0000", Message: "mystery"},
			},
		}, nil
	}

	outcome, err := b.Compile(ctx)
	var cerr *compilation.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, cerr.Diagnostics, 2)
	assert.False(t, outcome.Succeeded())

	bErr, ok := outcome.ErrorFor(2)
	require.True(t, ok)
	assert.Equal(t, "~/b.aspx", bErr.VirtualPath)
	first, _ := bErr.First()
	assert.Equal(t, "CS1513", first.Code)
	assert.Equal(t, "~/b.aspx", first.VirtualPath)

	_, ok = outcome.ErrorFor(1)
	assert.False(t, ok)
	assert.Len(t, outcome.Unattributed, 1)
}

func TestBuilder_SingleUnitGetsUnmatchedDiagnostics(t *testing.T) {
	ctx := context.Background()
	fc := &fakeCompiler{
		compileFunc: func(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
			return &compilation.CompileResponse{
				ExitCode:    1,
				Diagnostics: []compilation.Diagnostic{{File: "/container/input/x.cs", Severity: compilation.SeverityError, Message: "bad"}},
			}, nil
		},
	}
	b := newTestBuilder(t, fc)
	require.NoError(t, b.AddUnit(ctx, sourceUnit(7, "~/only.aspx", "x")))

	outcome, err := b.Compile(ctx)
	var cerr *compilation.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "~/only.aspx", cerr.VirtualPath)
	_, ok := outcome.ErrorFor(7)
	assert.True(t, ok)
	assert.Empty(t, outcome.Unattributed)
}

func TestBuilder_LockedOutput(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		compile func(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error)
	}{
		{
			name: "service error",
			compile: func(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
				return nil, fmt.Errorf("write %s: %w", req.OutputPath, compilation.ErrOutputLocked)
			},
		},
		{
			name: "diagnostic code",
			compile: func(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
				return &compilation.CompileResponse{
					ExitCode:    1,
					Diagnostics: []compilation.Diagnostic{{Severity: compilation.SeverityError, Code: LockedOutputCode, Message: "could not write output"}},
				}, nil
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBuilder(t, &fakeCompiler{compileFunc: tc.compile}, func(o *Options) {
				o.Culture = "fr"
				o.BaseAssembly = "App_Web_base"
			})
			require.NoError(t, os.MkdirAll(filepath.Dir(b.OutputPath()), 0755))
			require.NoError(t, os.WriteFile(b.OutputPath(), []byte("old"), 0644))
			base := filepath.Join(b.opts.CodegenDir, "App_Web_base.dll")
			require.NoError(t, os.WriteFile(base, []byte("base"), 0644))

			require.NoError(t, b.AddUnit(ctx, sourceUnit(1, "~/strings.fr.resx", "resource")))
			_, err := b.Compile(ctx)
			assert.ErrorIs(t, err, compilation.ErrOutputLocked)
			assert.False(t, cache.Exists(b.OutputPath()))
			assert.False(t, cache.Exists(base), "satellite recovery also drops the base artifact")
		})
	}
}

func TestBuilder_IsFull(t *testing.T) {
	ctx := context.Background()
	b := newTestBuilder(t, &fakeCompiler{}, func(o *Options) { o.MaxFiles = 2 })

	require.NoError(t, b.AddUnit(ctx, sourceUnit(1, "~/a.aspx", "a")))
	assert.False(t, b.IsFull())
	require.NoError(t, b.AddUnit(ctx, sourceUnit(2, "~/b.aspx", "b")))
	assert.True(t, b.IsFull())

	err := b.AddUnit(ctx, sourceUnit(3, "~/a.aspx", "a"))
	assert.ErrorIs(t, err, ErrDuplicateUnit)

	sized := newTestBuilder(t, &fakeCompiler{}, func(o *Options) { o.MaxBytes = 4 })
	require.NoError(t, sized.AddUnit(ctx, sourceUnit(1, "~/a.aspx", "12345")))
	assert.True(t, sized.IsFull())
}

func TestBuilder_AssignsHandles(t *testing.T) {
	ctx := context.Background()
	b := newTestBuilder(t, &fakeCompiler{})
	u := sourceUnit(compilation.NoHandle, "~/a.aspx", "a")
	require.NoError(t, b.AddUnit(ctx, u))
	assert.NotEqual(t, compilation.NoHandle, u.Handle)

	require.NoError(t, b.AddSource(u.Handle, "extra.cs", []byte("class Extra {}")))
	_, err := b.Compile(ctx)
	require.NoError(t, err)
}
