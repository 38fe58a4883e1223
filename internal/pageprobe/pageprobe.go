// Package pageprobe exposes the OS page-size probe, the "page_size"
// external collaborator named in spec.md §6. The engine uses it to size
// default flush thresholds and SSTable chunk sizes.
package pageprobe

import "os"

// Prober returns the preferred chunk size for a platform.
type Prober interface {
	Size() int
}

// OS reports os.Getpagesize().
type OS struct{}

// Size returns the OS-reported page size.
func (OS) Size() int {
	return os.Getpagesize()
}
