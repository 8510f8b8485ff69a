//go:build !linux

package relay

func newPoller() (Poller, error) {
	return nil, ErrUnsupportedPlatform
}

func listenTCP(string, int) (Listener, error) {
	return nil, ErrUnsupportedPlatform
}

func newDialer(string) (Dialer, error) {
	return nil, ErrUnsupportedPlatform
}
