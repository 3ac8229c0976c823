package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/compiler"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
)

// ResolverConfig holds resolver configuration
type ResolverConfig struct {
	Site     *Site
	Registry *compiler.Registry

	// DefaultLanguage applies to markup without a Language attribute
	DefaultLanguage string

	// CodeDirectories are compiled as a whole; their files are not pass-through
	CodeDirectories []string

	// GlobalFile is the application file, e.g. "~/global.asax"
	GlobalFile string

	Logger *logrus.Logger
}

// Resolver turns files of a Site into build units. Markup files (.aspx,
// .ascx, .master and the global file) produce a generated type; code files
// and resources are pass-through units.
type Resolver struct {
	cfg    ResolverConfig
	logger *logrus.Logger
}

// NewResolver creates a resolver
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = compiler.NewDefaultRegistry()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = config.DefaultLanguage
	}
	return &Resolver{cfg: cfg, logger: cfg.Logger}
}

var markupKinds = map[string]compilation.UnitKind{
	".aspx":   compilation.KindPage,
	".ascx":   compilation.KindControl,
	".master": compilation.KindControl,
	".asax":   compilation.KindGlobal,
}

var resourceExtensions = map[string]bool{
	".resx":      true,
	".resources": true,
}

// Resolve implements compilation.UnitResolver
func (r *Resolver) Resolve(ctx context.Context, vpath string) (*compilation.BuildUnit, error) {
	vpath = compilation.CleanPath(vpath)
	state, err := r.cfg.Site.Stat(vpath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", compilation.ErrNotFound, vpath)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", vpath, err)
	}
	if state.IsDir {
		return nil, fmt.Errorf("%w: %s is a directory", compilation.ErrNotFound, vpath)
	}

	ext := strings.ToLower(path.Ext(vpath))
	if kind, ok := markupKinds[ext]; ok {
		if kind == compilation.KindGlobal && !strings.EqualFold(vpath, compilation.CleanPath(r.cfg.GlobalFile)) {
			return nil, fmt.Errorf("%w: %s", compilation.ErrNotFound, vpath)
		}
		return r.resolveMarkup(vpath, kind, state.Size)
	}
	if resourceExtensions[ext] {
		return r.resolveResource(vpath, state.Size), nil
	}

	spec, err := r.cfg.Registry.ForExtension(ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", compilation.ErrNotFound, vpath)
	}
	return r.resolveCode(vpath, spec.ID, state.Size), nil
}

// InCodeDirectory reports whether vpath lives in a configured code directory
func (r *Resolver) InCodeDirectory(vpath string) bool {
	for _, dir := range r.cfg.CodeDirectories {
		if compilation.IsWithin(vpath, dir) {
			return true
		}
	}
	return false
}

func (r *Resolver) resolveCode(vpath, language string, size int64) *compilation.BuildUnit {
	physical := r.cfg.Site.MapPath(vpath)
	return &compilation.BuildUnit{
		VirtualPath: vpath,
		Kind:        compilation.KindCode,
		Language:    language,
		Output:      compilation.OutputAssembly,
		PassThrough: !r.InCodeDirectory(vpath),
		SizeHint:    size,
		Generator: compilation.GeneratorFunc(func(ctx context.Context, w compilation.SourceWriter) error {
			return w.AddSourceFile(physical)
		}),
	}
}

var culturePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)

// cultureOf extracts the culture of a resource file named name.culture.resx
func cultureOf(vpath string) string {
	parts := strings.Split(compilation.Name(vpath), ".")
	if len(parts) < 3 {
		return ""
	}
	if c := parts[len(parts)-2]; culturePattern.MatchString(c) {
		return c
	}
	return ""
}

func (r *Resolver) resolveResource(vpath string, size int64) *compilation.BuildUnit {
	physical := r.cfg.Site.MapPath(vpath)
	return &compilation.BuildUnit{
		VirtualPath: vpath,
		Kind:        compilation.KindResource,
		Culture:     cultureOf(vpath),
		Output:      compilation.OutputAssembly,
		PassThrough: true,
		SizeHint:    size,
		Generator: compilation.GeneratorFunc(func(ctx context.Context, w compilation.SourceWriter) error {
			return w.AddResource(physical)
		}),
	}
}

// languageAliases maps directive Language values to registry IDs
var languageAliases = map[string]string{
	"c#":           compiler.LanguageCSharp,
	"cs":           compiler.LanguageCSharp,
	"csharp":       compiler.LanguageCSharp,
	"vb":           compiler.LanguageVB,
	"vbs":          compiler.LanguageVB,
	"visualbasic":  compiler.LanguageVB,
	"visual basic": compiler.LanguageVB,
}

func (r *Resolver) language(value string) (string, error) {
	if value == "" {
		return r.cfg.DefaultLanguage, nil
	}
	id, ok := languageAliases[strings.ToLower(value)]
	if !ok {
		id = strings.ToLower(value)
	}
	if _, err := r.cfg.Registry.Get(id); err != nil {
		return "", fmt.Errorf("%w %q", ErrUnknownLanguage, value)
	}
	return id, nil
}

// relativeTo resolves a directive path against the directory of vpath
func relativeTo(vpath, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "~") || strings.HasPrefix(ref, "/") {
		return compilation.CleanPath(ref)
	}
	return compilation.Join(compilation.Parent(vpath), ref)
}

func (r *Resolver) resolveMarkup(vpath string, kind compilation.UnitKind, size int64) (*compilation.BuildUnit, error) {
	content, err := r.cfg.Site.ReadFile(vpath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", vpath, err)
	}

	directives := parseDirectives(content)
	main, ok := mainDirective(directives)
	if !ok {
		return nil, &compilation.ParseError{VirtualPath: vpath, Line: 1, Err: ErrMissingDirective}
	}

	language, err := r.language(main.attr("language"))
	if err != nil {
		return nil, &compilation.ParseError{VirtualPath: vpath, Line: main.line, Err: err}
	}

	unit := &compilation.BuildUnit{
		VirtualPath: vpath,
		Kind:        kind,
		Language:    language,
		SizeHint:    size,
	}

	for _, d := range directives {
		var ref string
		switch d.name {
		case "register":
			ref = d.attr("src")
		case "reference":
			ref = d.attr("control", "page", "virtualpath")
		case "mastertype", "previouspagetype":
			ref = d.attr("virtualpath")
		}
		if ref == "" {
			continue
		}
		dep := relativeTo(vpath, ref)
		unit.DependsOn = append(unit.DependsOn, dep)
		unit.FileDependencies = append(unit.FileDependencies, dep)
	}
	if master := main.attr("masterpagefile"); master != "" {
		dep := relativeTo(vpath, master)
		unit.DependsOn = append(unit.DependsOn, dep)
		unit.FileDependencies = append(unit.FileDependencies, dep)
	}

	if strings.EqualFold(main.attr("compilationmode"), "never") {
		unit.Output = compilation.OutputNoCompile
		return unit, nil
	}

	var codeFile string
	if ref := main.attr("codefile", "codebehind", "src"); ref != "" {
		dep := relativeTo(vpath, ref)
		codeFile = r.cfg.Site.MapPath(dep)
		unit.FileDependencies = append(unit.FileDependencies, dep)
	}

	className := main.attr("classname")
	if className == "" {
		className = classNameFor(compilation.Relative(vpath))
	}
	base := main.attr("inherits")
	if base == "" {
		base = baseTypes[main.name]
	}

	typeName := GeneratedNamespace + "." + className
	unit.Output = compilation.OutputType
	unit.TypeName = typeName
	unit.TypeNames = []string{typeName}
	unit.Generator = compilation.GeneratorFunc(func(ctx context.Context, w compilation.SourceWriter) error {
		if codeFile != "" {
			if err := w.AddSourceFile(codeFile); err != nil {
				return err
			}
		}
		f, err := w.CreateSource(className + stubExtension(language))
		if err != nil {
			return err
		}
		if err := writeStub(f, language, vpath, className, base); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})

	r.logger.WithFields(logrus.Fields{
		"path":     vpath,
		"kind":     kind,
		"language": language,
		"type":     typeName,
	}).Debug("Resolved markup unit")
	return unit, nil
}
