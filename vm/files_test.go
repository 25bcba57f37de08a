package vm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileTableStdStreamsPreallocated(t *testing.T) {
	ft := newFileTable()
	_, err := ft.slot(StdInHandle)
	require.NoError(t, err)
	_, err = ft.slot(StdOutHandle)
	require.NoError(t, err)
}

func TestFileTableAllocateAssignOpenWriteReadRoundTrip(t *testing.T) {
	ft := newFileTable()
	h, err := ft.AllocateFile()
	require.NoError(t, err)
	require.GreaterOrEqual(t, int(h), 2)

	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, ft.AssignFile(h, path))
	require.NoError(t, ft.OpenFile(h, "", true, true))
	require.NoError(t, ft.WriteString(h, "hello", 0))
	require.NoError(t, ft.WriteNewline(h))
	require.NoError(t, ft.WriteInteger(h, 42, 0))
	require.NoError(t, ft.CloseFile(h))

	require.NoError(t, ft.OpenFile(h, path, false, true))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\n42", string(got))

	eof, err := ft.Eof(h)
	require.NoError(t, err)
	require.False(t, eof)

	word, err := ft.ReadString(h, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", word)

	c, err := ft.ReadChar(h)
	require.NoError(t, err)
	require.Equal(t, byte('\n'), c)

	n, err := ft.ReadInteger(h)
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	eof, err = ft.Eof(h)
	require.NoError(t, err)
	require.True(t, eof)

	require.NoError(t, ft.FreeFile(h))
}

func TestFileTableExhaustion(t *testing.T) {
	ft := newFileTable()
	for i := 2; i < maxOpenFiles; i++ {
		_, err := ft.AllocateFile()
		require.NoError(t, err)
	}
	_, err := ft.AllocateFile()
	require.Error(t, err)
}

func TestFileTableUnallocatedHandleRejected(t *testing.T) {
	ft := newFileTable()
	err := ft.CloseFile(10)
	require.Error(t, err)
}

func TestFileTableWriteFieldWidthPadding(t *testing.T) {
	ft := newFileTable()
	h, err := ft.AllocateFile()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, ft.AssignFile(h, path))
	require.NoError(t, ft.OpenFile(h, "", true, true))
	require.NoError(t, ft.WriteInteger(h, 42, 5))
	require.NoError(t, ft.WriteString(h, "ab", 4))
	require.NoError(t, ft.WriteReal(h, 1.5, 8, 2))
	require.NoError(t, ft.CloseFile(h))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "   42  ab    1.50", string(got))
}

func TestGetenv(t *testing.T) {
	t.Setenv("PASCAL_VM_TEST_VAR", "1")
	v, ok := Getenv("PASCAL_VM_TEST_VAR")
	require.True(t, ok)
	require.Equal(t, "1", v)

	_, ok = Getenv("PASCAL_VM_TEST_VAR_NOT_SET_XYZ")
	require.False(t, ok)
}
