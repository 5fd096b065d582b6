package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := (&cli{}).newCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestAtobCommand(t *testing.T) {
	out, err := run(t, "", "atob", "aGVsbG8h")
	require.NoError(t, err)
	assert.Equal(t, "hello!", out)

	out, err = run(t, "aGVsbG8h\n", "atob", "--hex")
	require.NoError(t, err)
	assert.Equal(t, "68656c6c6f21\n", out)

	out, err = run(t, "", "atob", "AP8Q")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, []byte(out))
}

func TestEvalCommand(t *testing.T) {
	out, err := run(t, "6 * 7", "eval", "-")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	path := filepath.Join(t.TempDir(), "challenge.js")
	require.NoError(t, os.WriteFile(path, []byte(`var r = 'x.test'.length + 0.5;`), 0o600))
	out, err = run(t, "", "eval", "--engine", "otto", "--domain", "x.test", "--answer", "r.toFixed(10)", path)
	require.NoError(t, err)
	assert.Equal(t, "6.5000000000\n", out)
}

func TestEvalUnknownEngine(t *testing.T) {
	_, err := run(t, "1", "eval", "--engine", "rhino", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: goja")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "", "--log-level", "loud", "atob", "aGVsbG8h")
	assert.Error(t, err)
}
