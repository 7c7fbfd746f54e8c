package sandboxfs

import "os"

// DebugEnabled controls whether verbose internal diagnostics are logged. It
// is set automatically based on the SANDBOXFS_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("SANDBOXFS_DEBUG") == "1"
}
