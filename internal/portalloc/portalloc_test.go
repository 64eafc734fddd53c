package portalloc

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsUsablePort(t *testing.T) {
	port, err := Allocate()
	require.NoError(t, err)
	require.Greater(t, port, 0)

	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer l.Close()
}

func TestAllocateReturnsDistinctPorts(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 10; i++ {
		port, err := Allocate()
		require.NoError(t, err)
		seen[port] = true
	}
	require.Greater(t, len(seen), 1, "expected the OS to hand out varying ports across calls")
}
