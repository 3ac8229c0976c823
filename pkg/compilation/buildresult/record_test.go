package buildresult

import (
	"path/filepath"
	"testing"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func resolveIn(dir string) AssemblyResolver {
	return func(name string, global bool) compilation.Assembly {
		if global {
			return compilation.Assembly{Name: filepath.Base(name), Path: name, Global: true}
		}
		return compilation.Assembly{Name: name, Path: filepath.Join(dir, name+".dll")}
	}
}

func TestRecord_CompiledType(t *testing.T) {
	r := NewCompiledType("~/a.aspx", testAssembly, "ASP.a_aspx", []string{"~/a.aspx"},
		WithFingerprint("abc"), WithReferences("App_Code.1"), WithFlags(FlagShutdownOnChange|FlagWatched))

	rec, err := r.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, "compiled-type", rec.Kind)
	assert.Equal(t, testAssembly.Name, rec.Assembly)
	assert.Equal(t, uint32(FlagShutdownOnChange), rec.Flags, "runtime-only flags are not persisted")

	data, err := yaml.Marshal(rec)
	require.NoError(t, err)
	var decoded Record
	require.NoError(t, yaml.Unmarshal(data, &decoded))

	back, err := FromRecord(&decoded, resolveIn("/codegen"))
	require.NoError(t, err)
	assert.Equal(t, KindCompiledType, back.Kind())
	assert.Equal(t, "ASP.a_aspx", back.TypeName())
	assert.Equal(t, "/codegen/"+testAssembly.Name+".dll", back.Assembly().Path)
	assert.Equal(t, []string{"App_Code.1"}, back.References())
	fp, ok := back.Fingerprint()
	assert.True(t, ok)
	assert.Equal(t, fingerprint.Fingerprint("abc"), fp)
	assert.False(t, back.HasFlag(FlagWatched))
}

func TestRecord_GlobalAssembly(t *testing.T) {
	global := compilation.Assembly{Name: "Shared", Path: "/gac/Shared.dll", Global: true}
	r := NewCompiledAssembly("~/bin/Shared.dll", global, nil, WithFingerprint(fingerprint.Empty))

	rec, err := r.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, "/gac/Shared.dll", rec.Assembly)
	assert.True(t, rec.AssemblyGlobal)

	back, err := FromRecord(rec, resolveIn("/codegen"))
	require.NoError(t, err)
	assert.Equal(t, "/gac/Shared.dll", back.Assembly().Path)
	assert.True(t, back.Assembly().Global)
}

func TestRecord_CodeCompileUnitAndCustomString(t *testing.T) {
	unit := NewCodeCompileUnit("~/a.aspx", []byte{0, 1, 2, 255}, nil, WithFingerprint("f"))
	rec, err := unit.ToRecord()
	require.NoError(t, err)
	back, err := FromRecord(rec, resolveIn("/codegen"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 255}, back.CodeUnit())

	cs := NewCustomString("~/a.svc", "Service.Type", testAssembly, nil, WithFingerprint("f"))
	rec, err = cs.ToRecord()
	require.NoError(t, err)
	back, err = FromRecord(rec, resolveIn("/codegen"))
	require.NoError(t, err)
	assert.Equal(t, "Service.Type", back.CustomString())
	assert.Equal(t, testAssembly.Name, back.Assembly().Name)
}

func TestRecord_NotPersistable(t *testing.T) {
	cerr := compilation.NewCompileError("~/a", nil)
	for _, r := range []*Result{
		NewCompileError("~/a", cerr, nil, WithFingerprint("f")),
		NewNoCompile("~/a", nil, WithFingerprint("f")),
	} {
		_, err := r.ToRecord()
		assert.ErrorIs(t, err, ErrNotPersistable)
	}

	_, err := FromRecord(&Record{Version: RecordVersion, Kind: "compile-error"}, resolveIn("/"))
	assert.ErrorIs(t, err, ErrNotPersistable)
}

func TestRecord_Invalid(t *testing.T) {
	_, err := NewCompiledType("~/a", testAssembly, "T", nil).ToRecord()
	assert.ErrorIs(t, err, ErrInvalidRecord, "fingerprint must be computed first")

	_, err = FromRecord(&Record{Version: 99, Kind: "compiled-type"}, resolveIn("/"))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = FromRecord(&Record{Version: RecordVersion, Kind: "mystery"}, resolveIn("/"))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = FromRecord(&Record{Version: RecordVersion, Kind: "compiled-type", Assembly: "x"}, resolveIn("/"))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = FromRecord(&Record{Version: RecordVersion, Kind: "compiled-assembly"}, resolveIn("/"))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestParseKind(t *testing.T) {
	for k := KindCompiledAssembly; k <= KindNoCompile; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}
