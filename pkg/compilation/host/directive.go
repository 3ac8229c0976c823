package host

import (
	"bytes"
	"regexp"
	"strings"
)

var (
	directivePattern = regexp.MustCompile(`(?s)<%@\s*(\w+)(.*?)%>`)
	attributePattern = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
)

// directive is one <%@ Name attr="value" %> block. Attribute names are
// stored lower case.
type directive struct {
	name  string
	attrs map[string]string
	line  int
}

func (d directive) attr(names ...string) string {
	for _, n := range names {
		if v, ok := d.attrs[n]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseDirectives extracts every directive of a markup file. The remaining
// markup is not interpreted.
func parseDirectives(content []byte) []directive {
	var out []directive
	for _, m := range directivePattern.FindAllSubmatchIndex(content, -1) {
		d := directive{
			name:  strings.ToLower(string(content[m[2]:m[3]])),
			attrs: make(map[string]string),
			line:  bytes.Count(content[:m[0]], []byte("\n")) + 1,
		}
		for _, a := range attributePattern.FindAllSubmatch(content[m[4]:m[5]], -1) {
			d.attrs[strings.ToLower(string(a[1]))] = string(a[2])
		}
		out = append(out, d)
	}
	return out
}

// mainDirectiveNames maps the directive that must head each markup kind
var mainDirectiveNames = map[string]bool{
	"page":        true,
	"control":     true,
	"master":      true,
	"application": true,
}

func mainDirective(ds []directive) (directive, bool) {
	for _, d := range ds {
		if mainDirectiveNames[d.name] {
			return d, true
		}
	}
	return directive{}, false
}
