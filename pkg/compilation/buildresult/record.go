package buildresult

import (
	"encoding/base64"
	"fmt"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
)

// RecordVersion is the current persisted record format
const RecordVersion = 1

// Record is the persisted metadata of a cached result. One record is written
// per cached unit; the assembly it describes lives next to it.
type Record struct {
	Version      int      `json:"version" yaml:"version"`
	Kind         string   `json:"kind" yaml:"kind"`
	VirtualPath  string   `json:"virtualPath" yaml:"virtualPath"`
	Fingerprint  string   `json:"fingerprint" yaml:"fingerprint"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Assembly is the short name for codegen assemblies and the full path
	// for global ones
	Assembly       string   `json:"assembly,omitempty" yaml:"assembly,omitempty"`
	AssemblyGlobal bool     `json:"assemblyGlobal,omitempty" yaml:"assemblyGlobal,omitempty"`
	References     []string `json:"references,omitempty" yaml:"references,omitempty"`

	TypeName     string `json:"typeName,omitempty" yaml:"typeName,omitempty"`
	CustomString string `json:"customString,omitempty" yaml:"customString,omitempty"`
	CodeUnit     string `json:"codeUnit,omitempty" yaml:"codeUnit,omitempty"`
	Flags        uint32 `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// AssemblyResolver maps a record's assembly attribute back to a reference
type AssemblyResolver func(name string, global bool) compilation.Assembly

// ToRecord encodes the result for a durable tier. The fingerprint must have
// been computed already.
func (r *Result) ToRecord() (*Record, error) {
	fp, ok := r.Fingerprint()
	if !ok {
		return nil, fmt.Errorf("%w: fingerprint of %s not computed", ErrInvalidRecord, r.virtualPath)
	}

	rec := &Record{
		Version:      RecordVersion,
		Kind:         r.kind.String(),
		VirtualPath:  r.virtualPath,
		Fingerprint:  fp.String(),
		Dependencies: r.Dependencies(),
		References:   r.References(),
		Flags:        uint32(r.Flags() & persistentFlags),
	}

	switch r.kind {
	case KindCompiledAssembly:
		setRecordAssembly(rec, r.assembly)
	case KindCompiledType:
		setRecordAssembly(rec, r.assembly)
		rec.TypeName = r.typeName
	case KindCustomString:
		setRecordAssembly(rec, r.assembly)
		rec.CustomString = r.customString
	case KindCodeCompileUnit:
		rec.CodeUnit = base64.StdEncoding.EncodeToString(r.codeUnit)
	case KindCompileError, KindNoCompile:
		return nil, fmt.Errorf("%w: %s", ErrNotPersistable, r.kind)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(r.kind))
	}

	return rec, nil
}

func setRecordAssembly(rec *Record, asm compilation.Assembly) {
	if asm.Global {
		rec.Assembly = asm.Path
		rec.AssemblyGlobal = true
		return
	}
	rec.Assembly = asm.Name
}

// FromRecord decodes a persisted record
func FromRecord(rec *Record, resolve AssemblyResolver) (*Result, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.Version != RecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}

	kind, err := ParseKind(rec.Kind)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithFingerprint(fingerprint.Fingerprint(rec.Fingerprint)),
		WithReferences(rec.References...),
		WithFlags(Flags(rec.Flags) & persistentFlags),
	}

	assembly := func() (compilation.Assembly, error) {
		if rec.Assembly == "" {
			return compilation.Assembly{}, fmt.Errorf("%w: %s record for %s has no assembly", ErrInvalidRecord, kind, rec.VirtualPath)
		}
		return resolve(rec.Assembly, rec.AssemblyGlobal), nil
	}

	switch kind {
	case KindCompiledAssembly:
		asm, err := assembly()
		if err != nil {
			return nil, err
		}
		return NewCompiledAssembly(rec.VirtualPath, asm, rec.Dependencies, opts...), nil
	case KindCompiledType:
		asm, err := assembly()
		if err != nil {
			return nil, err
		}
		if rec.TypeName == "" {
			return nil, fmt.Errorf("%w: type record for %s has no type name", ErrInvalidRecord, rec.VirtualPath)
		}
		return NewCompiledType(rec.VirtualPath, asm, rec.TypeName, rec.Dependencies, opts...), nil
	case KindCustomString:
		var asm compilation.Assembly
		if rec.Assembly != "" {
			asm = resolve(rec.Assembly, rec.AssemblyGlobal)
		}
		return NewCustomString(rec.VirtualPath, rec.CustomString, asm, rec.Dependencies, opts...), nil
	case KindCodeCompileUnit:
		unit, err := base64.StdEncoding.DecodeString(rec.CodeUnit)
		if err != nil {
			return nil, fmt.Errorf("%w: code unit of %s: %v", ErrInvalidRecord, rec.VirtualPath, err)
		}
		return NewCodeCompileUnit(rec.VirtualPath, unit, rec.Dependencies, opts...), nil
	case KindCompileError, KindNoCompile:
		return nil, fmt.Errorf("%w: %s", ErrNotPersistable, kind)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, rec.Kind)
	}
}
