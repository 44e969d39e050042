package archivesim

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/caio-sobreiro/dicomnode/types"
)

// Start serves a on a loopback port and returns a device addressing it,
// with both services enabled. The archive stops when stop is called or
// when the test ends.
func Start(tb testing.TB, a *Archive) (device types.Device, stop func()) {
	tb.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("archivesim: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Serve(ctx, listener)
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	tb.Cleanup(stop)

	port := listener.Addr().(*net.TCPAddr).Port
	return types.Device{
		AETitle:              a.AETitle(),
		Address:              "127.0.0.1",
		QueryRetrievePort:    port,
		StorePort:            port,
		QueryRetrieveEnabled: true,
		StoreEnabled:         true,
	}, stop
}
