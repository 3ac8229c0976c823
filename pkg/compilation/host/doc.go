// Package host adapts a physical site directory to the compilation
// collaborators: virtual path enumeration and mapping, dependency file
// access and unit resolution for markup, code and resource files.
package host
