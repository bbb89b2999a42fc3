package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func TestFileSystems(t *testing.T) {
	root := t.TempDir()
	testCases := []struct {
		name string
		fs   FS
		base string
	}{
		{name: "os", fs: NewOS(), base: root},
		{name: "memory", fs: NewMemory(), base: "mem"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			file := filepath.Join(tc.base, "a", "b", "c.txt")

			ok, err := tc.fs.Exists(file)
			if err != nil || ok {
				t.Fatalf("Exists before write = %v, %v", ok, err)
			}
			if _, err := tc.fs.ReadFile(file); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("ReadFile missing: %v", err)
			}
			if err := tc.fs.WriteFile(file, []byte("hello")); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := tc.fs.ReadFile(file)
			if err != nil || string(got) != "hello" {
				t.Fatalf("ReadFile = %q, %v", got, err)
			}
			if ok, _ := tc.fs.Exists(file); !ok {
				t.Fatal("file should exist after write")
			}
			if err := tc.fs.MkdirAll(filepath.Join(tc.base, "d")); err != nil {
				t.Fatalf("MkdirAll: %v", err)
			}
			if ok, _ := tc.fs.Exists(filepath.Join(tc.base, "d")); !ok {
				t.Fatal("dir should exist")
			}

			copied := filepath.Join(tc.base, "out", "nested", "c.txt")
			if err := tc.fs.Copy(file, copied); err != nil {
				t.Fatalf("Copy: %v", err)
			}
			if got, err := tc.fs.ReadFile(copied); err != nil || string(got) != "hello" {
				t.Fatalf("copied file = %q, %v", got, err)
			}
			if err := tc.fs.Copy(file, file); err != nil {
				t.Fatalf("Copy onto itself: %v", err)
			}
		})
	}
}

func TestWalk(t *testing.T) {
	m := NewMemory()
	for _, name := range []string{"site/b.css", "site/a/index.html", "site/a.txt"} {
		if err := m.WriteFile(name, []byte(name)); err != nil {
			t.Fatal(err)
		}
	}

	var files []string
	err := m.Walk("site", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	// Имена сортируются: "a" идёт раньше "a.txt".
	want := []string{"site/a/index.html", "site/a.txt", "site/b.css"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}

	if err := m.Walk("absent", func(_ string, _ os.FileInfo, err error) error { return err }); err == nil {
		t.Error("walking a missing root should fail")
	}
}

func TestReadOnly(t *testing.T) {
	ro := New(afero.NewReadOnlyFs(afero.NewMemMapFs()))
	if err := ro.WriteFile("a/b.txt", []byte("x")); err == nil {
		t.Error("write on read-only fs should fail")
	}
}
