//go:build !unix

package fsutil

const openNoFollow = 0
