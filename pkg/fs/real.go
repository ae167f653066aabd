package fs

import "os"

// Real implements [FS] as pure passthroughs to the os package.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// Open wraps [os.Open].
func (r *Real) Open(path string) (File, error) {
	return os.Open(path)
}

// OpenFile wraps [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// Stat wraps [os.Stat].
func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Remove wraps [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

// Rename wraps [os.Rename].
func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

var _ FS = (*Real)(nil)
