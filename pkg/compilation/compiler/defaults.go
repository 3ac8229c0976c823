package compiler

// DefaultLanguages returns the default language configurations
func DefaultLanguages() []*LanguageSpec {
	return []*LanguageSpec{
		getCSharpLanguageSpec(),
		getVBLanguageSpec(),
	}
}

func getCSharpLanguageSpec() *LanguageSpec {
	return &LanguageSpec{
		ID:            LanguageCSharp,
		Name:          "C#",
		Extensions:    []string{".cs"},
		Command:       "csc",
		Flags:         []string{"-nologo", "-target:library"},
		DebugFlags:    []string{"-debug+", "-optimize-"},
		ReleaseFlags:  []string{"-debug-", "-optimize+"},
		WarningPrefix: "-warn:",
		DockerImage:   "mono",
		DockerTag:     "6.12",
		Enabled:       true,
	}
}

func getVBLanguageSpec() *LanguageSpec {
	return &LanguageSpec{
		ID:           LanguageVB,
		Name:         "Visual Basic",
		Extensions:   []string{".vb"},
		Command:      "vbc",
		Flags:        []string{"-nologo", "-target:library"},
		DebugFlags:   []string{"-debug+", "-optimize-"},
		ReleaseFlags: []string{"-debug-", "-optimize+"},
		DockerImage:  "mono",
		DockerTag:    "6.12",
		Enabled:      true,
	}
}
