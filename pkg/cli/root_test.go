package cli

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn and returns what it printed
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "webcompile-cli", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"precompile", "compile", "clean", "history"}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	var err error
	output := captureStdout(t, func() { err = root.usage() })

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: webcompile-cli <command> [args]")
	assert.Contains(t, output, "Commands:")
	for name := range root.Subcommands {
		assert.Contains(t, output, name)
	}
}

func TestCommandExecute_Help(t *testing.T) {
	root := NewRootCommand()

	for _, args := range [][]string{nil, {"-h"}, {"--HELP"}, {"help"}} {
		var err error
		output := captureStdout(t, func() { err = root.ExecuteArgs(args) })
		assert.NoError(t, err)
		assert.Contains(t, output, "Usage: webcompile-cli")
	}
}

func TestCommandExecute_Subcommand(t *testing.T) {
	root := NewRootCommand()

	var receivedArgs []string
	root.Subcommands["test"] = &Command{
		Name: "test",
		Run: func(args []string) error {
			receivedArgs = args
			return nil
		},
	}

	require.NoError(t, root.ExecuteArgs([]string{"test", "-site", "./site", "~/a.aspx"}))
	assert.Equal(t, []string{"-site", "./site", "~/a.aspx"}, receivedArgs)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	err := NewRootCommand().ExecuteArgs([]string{"nonexistent"})
	assert.EqualError(t, err, "unknown command: nonexistent")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"app_data", "temp"}, splitList(" app_data, ,temp "))
	assert.Nil(t, splitList(""))
}
