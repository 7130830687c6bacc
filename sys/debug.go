package sys

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var _ FileHandle = (*DebugFile)(nil)
var nextID atomic.Uint64

var openFiles sync.Map // id -> name

// DebugFile logs open and close of every handle and tracks the set of handles
// still open, which is how leaked region files are found in tests.
type DebugFile struct {
	RealFile
	id     uint64
	logger *slog.Logger
}

func DOpenFile(sysFile File, name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := sysFile.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	id := nextID.Add(1)
	logger := slog.Default().With("component", "DebugFile", "id", id, "file_name", name)
	logger.Debug("Opening file")
	openFiles.Store(id, name)
	return &DebugFile{RealFile: RealFile{f: f}, id: id, logger: logger}, nil
}

func (df *DebugFile) Close() error {
	df.logger.Debug("Closing file")
	openFiles.Delete(df.id)
	return df.f.Close()
}

// OpenFileNames returns the names of files opened in debug mode and not yet closed.
func OpenFileNames() []string {
	var names []string
	openFiles.Range(func(_, value any) bool {
		names = append(names, value.(string))
		return true
	})
	return names
}
