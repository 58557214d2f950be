package printer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	out   []byte
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.out, f.err
}

func writeArtifact(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invoice-1001.pdf")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestDispatcher_DisabledIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(Config{Enabled: false}, runner, nil, nil)

	require.NoError(t, d.Print(context.Background(), "/does/not/exist.pdf"))
	assert.Empty(t, runner.calls)
}

func TestDispatcher_RunsLp(t *testing.T) {
	runner := &fakeRunner{out: []byte("request id is Office-42 (1 file(s))")}
	d := NewDispatcher(Config{Enabled: true, PrinterName: "Office", Copies: 2}, runner, nil, nil)
	path := writeArtifact(t, "%PDF")

	require.NoError(t, d.Print(context.Background(), path))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "lp", runner.calls[0].name)
	assert.Equal(t, []string{"-d", "Office", "-n", "2", path}, runner.calls[0].args)
}

func TestDispatcher_DefaultPrinterAndCopies(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(Config{Enabled: true}, runner, nil, nil)
	path := writeArtifact(t, "%PDF")

	require.NoError(t, d.Print(context.Background(), path))
	assert.Equal(t, []string{"-n", "1", path}, runner.calls[0].args)
}

func TestDispatcher_Failures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		runner := &fakeRunner{}
		d := NewDispatcher(Config{Enabled: true}, runner, nil, nil)
		err := d.Print(context.Background(), filepath.Join(t.TempDir(), "none.pdf"))
		assert.True(t, errors.Is(err, domain.ErrPrint))
		assert.Empty(t, runner.calls)
	})

	t.Run("empty file", func(t *testing.T) {
		runner := &fakeRunner{}
		d := NewDispatcher(Config{Enabled: true}, runner, nil, nil)
		err := d.Print(context.Background(), writeArtifact(t, ""))
		assert.True(t, errors.Is(err, domain.ErrPrint))
		assert.True(t, errors.Is(err, domain.ErrEmptyArtifact))
		assert.Empty(t, runner.calls)
	})

	t.Run("lp error", func(t *testing.T) {
		runner := &fakeRunner{out: []byte("lp: The printer or class does not exist."), err: errors.New("exit status 1")}
		d := NewDispatcher(Config{Enabled: true, PrinterName: "Ghost"}, runner, nil, nil)
		err := d.Print(context.Background(), writeArtifact(t, "%PDF"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrPrint))
		assert.Contains(t, err.Error(), "does not exist")
	})
}

func TestDispatcher_PrinterPresent(t *testing.T) {
	runner := &fakeRunner{out: []byte("printer Office is idle.")}
	d := NewDispatcher(Config{Enabled: true, PrinterName: "Office"}, runner, nil, nil)
	require.NoError(t, d.PrinterPresent(context.Background()))
	assert.Equal(t, call{name: "lpstat", args: []string{"-p", "Office"}}, runner.calls[0])

	runner = &fakeRunner{out: []byte("no system default destination")}
	d = NewDispatcher(Config{Enabled: true}, runner, nil, nil)
	require.Error(t, d.PrinterPresent(context.Background()))

	runner = &fakeRunner{err: errors.New("exit status 1")}
	d = NewDispatcher(Config{Enabled: true, PrinterName: "Ghost"}, runner, nil, nil)
	require.Error(t, d.PrinterPresent(context.Background()))
}
