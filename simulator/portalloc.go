package simulator

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// PortRange is a contiguous inclusive range of TCP ports candidates
// are drawn from.
type PortRange struct {
	Low, High int
}

// AllocatePort claims a free port from r using an advisory file lock
// per candidate port so that parallel test workers never race on the
// same port, falling back to an OS-assigned port (":0") if every
// candidate in r is taken or locked.
//
// lockDir holds one lock file per candidate port, named
// "cync-simport-<port>.lock"; it must be shared by every worker that
// might race (e.g. $TMPDIR).
func AllocatePort(lockDir string, r PortRange) (port int, release func(), err error) {
	for p := r.Low; p <= r.High; p++ {
		lockPath := filepath.Join(lockDir, fmt.Sprintf("cync-simport-%d.lock", p))
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			continue
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			continue
		}
		ln.Close()
		release = func() {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			os.Remove(lockPath)
		}
		return p, release, nil
	}

	// Every candidate in range was taken or locked; fall back to an
	// OS-assigned port rather than failing the test outright.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, nil, fmt.Errorf("simulator: allocate fallback port: %w", err)
	}
	port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, func() {}, nil
}
