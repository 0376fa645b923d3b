//go:build !unix

package channel

import "errors"

func newUnixEndpoint() (Endpoint, error) {
	return nil, errors.New("channel: unix endpoint not supported on this platform")
}
