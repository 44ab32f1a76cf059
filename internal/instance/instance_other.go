//go:build !unix && !windows

package instance

func acquire(string) (func() error, error) {
	return func() error { return nil }, nil
}
