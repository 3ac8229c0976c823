package compilation

import (
	"path"
	"strings"
)

// AppRoot is the virtual path of the application root
const AppRoot = "~"

// CleanPath normalizes a virtual path to the "~/dir/file" form
func CleanPath(vpath string) string {
	p := strings.ReplaceAll(strings.TrimSpace(vpath), "\\", "/")
	switch {
	case p == "" || p == AppRoot || p == "~/" || p == "/":
		return AppRoot
	case strings.HasPrefix(p, "~/"):
		p = p[2:]
	case strings.HasPrefix(p, "/"):
		p = p[1:]
	}
	p = path.Clean("/" + p)
	if p == "/" {
		return AppRoot
	}
	return AppRoot + p
}

// Parent returns the virtual directory containing vpath
func Parent(vpath string) string {
	p := CleanPath(vpath)
	if p == AppRoot {
		return AppRoot
	}
	dir := path.Dir(strings.TrimPrefix(p, AppRoot))
	if dir == "/" || dir == "." {
		return AppRoot
	}
	return AppRoot + dir
}

// Name returns the last element of a virtual path
func Name(vpath string) string {
	p := CleanPath(vpath)
	if p == AppRoot {
		return ""
	}
	return path.Base(p)
}

// Join appends elements to a virtual directory
func Join(dir string, elems ...string) string {
	p := strings.TrimPrefix(CleanPath(dir), AppRoot)
	return CleanPath(path.Join(append([]string{"/" + p}, elems...)...))
}

// Relative returns vpath relative to the application root, without the
// leading "~/"
func Relative(vpath string) string {
	return strings.TrimPrefix(strings.TrimPrefix(CleanPath(vpath), AppRoot), "/")
}

// IsWithin reports whether vpath equals dir or lives below it
func IsWithin(vpath, dir string) bool {
	p, d := strings.ToLower(CleanPath(vpath)), strings.ToLower(CleanPath(dir))
	if d == AppRoot {
		return true
	}
	return p == d || strings.HasPrefix(p, d+"/")
}

// TopLevelDirectory returns the first path segment below the root
func TopLevelDirectory(vpath string) string {
	rel := Relative(vpath)
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}
