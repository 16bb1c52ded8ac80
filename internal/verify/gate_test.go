package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmptyCommandsAlwaysPass(t *testing.T) {
	g := NewCommandGate("", "", t.TempDir(), time.Minute, nil)

	res, err := g.CheckFile(context.Background(), "main.go")
	require.NoError(t, err)
	require.True(t, res.Passed)

	res, err = g.CheckWorkspace(context.Background())
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestFileCommandSubstitutesPath(t *testing.T) {
	g := NewCommandGate("test -n '{}'", "", t.TempDir(), time.Minute, nil)

	res, err := g.CheckFile(context.Background(), "main.go")
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestFailingCommandProducesDiagnostics(t *testing.T) {
	g := NewCommandGate("", "echo 'main.go:4: undefined symbol' >&2; exit 1", t.TempDir(), time.Minute, nil)

	res, err := g.CheckWorkspace(context.Background())
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Contains(t, res.Diagnostics, "undefined symbol")
}

func TestTimeoutFailsInsteadOfErroring(t *testing.T) {
	g := NewCommandGate("", "sleep 5", t.TempDir(), 100*time.Millisecond, nil)

	res, err := g.CheckWorkspace(context.Background())
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Contains(t, res.Diagnostics, "timed out")
}

func TestNopGatePasses(t *testing.T) {
	var g Gate = NopGate{}
	res, err := g.CheckWorkspace(context.Background())
	require.NoError(t, err)
	require.True(t, res.Passed)
}
