// Package portalloc obtains ephemeral TCP ports from the OS for plugin
// processes to bind to.
package portalloc

import "net"

// Allocate binds a stream socket to the loopback address on port 0, reads
// back the port the OS assigned, and releases the socket before returning.
//
// The result is advisory only (TOCTOU-racy): nothing prevents another
// process from grabbing the same port between Allocate returning and the
// plugin's own listen() call. Callers must be prepared to retry with a
// fresh allocation if the child fails to come up.
func Allocate() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()

	addr := l.Addr().(*net.TCPAddr)
	return addr.Port, nil
}
