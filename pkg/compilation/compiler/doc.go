// Package compiler provides compilation.CompilerService implementations.
//
// ExecCompiler invokes the language compiler installed on the host.
// DockerCompiler runs it in a container with resource limits and no
// network, staging inputs into a read-only mount:
//
//	registry := compiler.NewDefaultRegistry()
//	svc, err := compiler.NewDockerCompiler(registry, compiler.DefaultDockerConfig(), logger)
//
// Both parse compiler output into compilation.Diagnostic values with
// ParseDiagnostics.
package compiler
