// Package storage is the filesystem port used by the file-producing resolvers,
// the JSON cache store and the directory rewriter.
package storage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	dirPerm  os.FileMode = 0755
	filePerm os.FileMode = 0644
)

type FS interface {
	ReadFile(name string) ([]byte, error)
	// WriteFile creates missing parent directories first.
	WriteFile(name string, data []byte) error
	MkdirAll(dir string) error
	Exists(name string) (bool, error)
	// Walk visits files in lexical order, like filepath.Walk.
	Walk(root string, fn filepath.WalkFunc) error
	Copy(src, dst string) error
}

// Afero implements FS over any afero filesystem.
type Afero struct {
	fs afero.Fs
}

func New(fs afero.Fs) *Afero { return &Afero{fs: fs} }

// NewOS works on the local disk.
func NewOS() *Afero { return New(afero.NewOsFs()) }

// NewMemory keeps everything in memory. Used in tests and dry runs.
func NewMemory() *Afero { return New(afero.NewMemMapFs()) }

func (a *Afero) Fs() afero.Fs { return a.fs }

func (a *Afero) ReadFile(name string) ([]byte, error) { return afero.ReadFile(a.fs, name) }

func (a *Afero) WriteFile(name string, data []byte) error {
	if err := a.fs.MkdirAll(filepath.Dir(name), dirPerm); err != nil {
		return err
	}
	return afero.WriteFile(a.fs, name, data, filePerm)
}

func (a *Afero) MkdirAll(dir string) error { return a.fs.MkdirAll(dir, dirPerm) }

func (a *Afero) Exists(name string) (bool, error) { return afero.Exists(a.fs, name) }

func (a *Afero) Walk(root string, fn filepath.WalkFunc) error { return afero.Walk(a.fs, root, fn) }

func (a *Afero) Copy(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	in, err := a.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := a.fs.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}
	out, err := a.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
