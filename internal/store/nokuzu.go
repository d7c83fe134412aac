//go:build !cgo

package store

import "fmt"

func openKuzuBackend(string) (Store, error) {
	return nil, fmt.Errorf("store: kuzu backend requires a cgo build")
}
