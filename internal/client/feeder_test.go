package client

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameSample(t *testing.T) {
	require.Equal(t, []byte("21.5\n"), FrameSample("21.5"))
	require.Equal(t, []byte("a b  c\n"), FrameSample("a\nb\r\nc"))
}

func TestFrameReading(t *testing.T) {
	require.Equal(t, []byte("21.50\n"), FrameReading(21.5, 2))
}

func TestFeederSend(t *testing.T) {
	server, conn := net.Pipe()
	defer server.Close()

	f := NewFeeder(conn)
	go func() {
		_ = f.Send("21.5")
		_ = f.SendReading(22, 1)
		_ = f.Close()
	}()

	sc := bufio.NewScanner(server)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Equal(t, []string{"21.5", "22.0"}, lines)
}
