package compiler

import "strings"

// LanguageSpec defines how a language's compiler is invoked
type LanguageSpec struct {
	// Identification
	ID   string `json:"id" yaml:"id"`     // "csharp", "vb"
	Name string `json:"name" yaml:"name"` // "C#", "Visual Basic"

	// Extensions are the source file extensions compiled by this language
	Extensions []string `json:"extensions" yaml:"extensions"` // [".cs"]

	// Command is the compiler executable, on the host or inside the image
	Command string `json:"command" yaml:"command"` // "csc"

	// Flags are passed on every invocation
	Flags []string `json:"flags,omitempty" yaml:"flags,omitempty"` // ["-nologo"]

	// DebugFlags replace the optimization flags for debug builds
	DebugFlags    []string `json:"debug_flags,omitempty" yaml:"debug_flags,omitempty"`
	ReleaseFlags  []string `json:"release_flags,omitempty" yaml:"release_flags,omitempty"`
	WarningPrefix string   `json:"warning_prefix,omitempty" yaml:"warning_prefix,omitempty"` // "-warn:"

	// Docker configuration
	DockerImage string `json:"docker_image" yaml:"docker_image"` // "mono"
	DockerTag   string `json:"docker_tag" yaml:"docker_tag"`     // "6.12"

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Validate checks if the language spec is valid
func (ls *LanguageSpec) Validate() error {
	if ls.ID == "" {
		return ErrInvalidLanguageID
	}
	if ls.Name == "" {
		return ErrInvalidLanguageName
	}
	if ls.Command == "" {
		return ErrInvalidCommand
	}
	return nil
}

// FullDockerImage returns the full Docker image reference
func (ls *LanguageSpec) FullDockerImage() string {
	if ls.DockerTag != "" {
		return ls.DockerImage + ":" + ls.DockerTag
	}
	return ls.DockerImage
}

// HandlesExtension reports whether ext (with leading dot) belongs to the language
func (ls *LanguageSpec) HandlesExtension(ext string) bool {
	for _, e := range ls.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Common language IDs
const (
	LanguageCSharp = "csharp"
	LanguageVB     = "vb"
)
