//go:build !unix

package journal

import (
	"os"
	"sync"
)

// Without flock, appends are only serialized within this process.
var appendMu sync.Mutex

func lockFile(*os.File) error {
	appendMu.Lock()
	return nil
}

func unlockFile(*os.File) error {
	appendMu.Unlock()
	return nil
}
