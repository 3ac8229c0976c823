package host

import (
	"fmt"
	"io"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation/compiler"
)

// GeneratedNamespace holds every type generated from markup
const GeneratedNamespace = "ASP"

// baseTypes are the framework base classes of generated types
var baseTypes = map[string]string{
	"page":        "System.Web.UI.Page",
	"control":     "System.Web.UI.UserControl",
	"master":      "System.Web.UI.MasterPage",
	"application": "System.Web.HttpApplication",
}

// classNameFor derives the generated class name of a markup file,
// e.g. "~/admin/default.aspx" becomes "admin_default_aspx"
func classNameFor(rel string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(rel) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := sb.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}

// writeStub writes the generated class declaration for a markup file
func writeStub(w io.Writer, language, vpath, className, base string) error {
	var err error
	switch language {
	case compiler.LanguageVB:
		_, err = fmt.Fprintf(w, "' %s\nNamespace %s\n    Partial Public Class %s\n        Inherits %s\n    End Class\nEnd Namespace\n",
			vpath, GeneratedNamespace, className, base)
	default:
		_, err = fmt.Fprintf(w, "// %s\nnamespace %s {\n    public partial class %s : %s {\n    }\n}\n",
			vpath, GeneratedNamespace, className, base)
	}
	return err
}

// stubExtension returns the generated file extension for a language
func stubExtension(language string) string {
	if language == compiler.LanguageVB {
		return ".g.vb"
	}
	return ".g.cs"
}
