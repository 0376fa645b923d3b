//go:build !windows

package channel

import "errors"

func newPipeEndpoint() (Endpoint, error) {
	return nil, errors.New("channel: named pipe endpoint requires windows")
}
