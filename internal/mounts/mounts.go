// Package mounts provides the sql file mount used by the purge command. The files are
// read either from the copy embedded in the binary or, when specified, from a
// directory on disk, so that an edited schema can be used without rebuilding. Both
// are mounted at the same level, something that does not happen by default with an
// embedded fs.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileMount is a mount backed by either an embedded fs.FS or a directory.
type FileMount struct {
	MountName string
	Embedded  bool
	fs.FS
}

// String describes a FileMount and the files it holds.
func (fm FileMount) String() string {
	source := "directory"
	if fm.Embedded {
		source = "embedded"
	}
	files, _ := fm.Files()
	return fmt.Sprintf("%s mount %q: %s", source, fm.MountName, strings.Join(files, ", "))
}

// ErrInvalidPath reports an invalid mount name.
type ErrInvalidPath struct {
	mountName string
}

// Error fulfills the Error interface requirement for ErrInvalidPath.
func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs.ValidPath path", e.mountName)
}

// NewFileMount mounts the mountName subdirectory of embeddedFS or, if dirPath is not
// empty, the directory at dirPath. Given
//
//	//go:embed sql
//	var SQLEmbeddedFS embed.FS
//
// NewFileMount("sql", SQLEmbeddedFS, "") opens "schema.sql" at the top of the mount,
// just as NewFileMount("sql", SQLEmbeddedFS, "/home/me/crm-sql") does for
// /home/me/crm-sql/schema.sql.
func NewFileMount(mountName string, embeddedFS fs.FS, dirPath string) (*FileMount, error) {

	if mountName == "" {
		return nil, errors.New("no mount name provided for new file mount")
	}
	if !fs.ValidPath(mountName) {
		return nil, ErrInvalidPath{mountName}
	}

	if dirPath == "" {
		subFS, err := fs.Sub(embeddedFS, mountName)
		if err != nil {
			return nil, fmt.Errorf("could not sub-mount embedded fs at %q: %w", mountName, err)
		}
		return &FileMount{MountName: mountName, Embedded: true, FS: subFS}, nil
	}

	s, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("new mount at %q error: %w", dirPath, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("new mount at %q is not a directory", dirPath)
	}
	return &FileMount{MountName: mountName, FS: os.DirFS(dirPath)}, nil
}

// Files lists the regular files in the mount in lexical order.
func (fm *FileMount) Files() ([]string, error) {
	var files []string
	err := fs.WalkDir(fm.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Materialize writes the files of the mount below root/MountName, returning the
// directory written. Root must be a directory and root/MountName must not exist, so
// that edited files are never overwritten.
func (fm *FileMount) Materialize(root string) (string, error) {

	s, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("materialize root %q invalid: %w", root, err)
	}
	if !s.IsDir() {
		return "", fmt.Errorf("materialize root %q is not a directory", root)
	}

	mountRoot := filepath.Join(root, filepath.FromSlash(fm.MountName))
	if _, err := os.Stat(mountRoot); !os.IsNotExist(err) {
		return "", fmt.Errorf("materialization path %q already exists", mountRoot)
	}
	if err := os.MkdirAll(mountRoot, 0755); err != nil {
		return "", fmt.Errorf("could not create mount root %q: %w", mountRoot, err)
	}

	err = fs.WalkDir(fm.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fullPath := filepath.Join(mountRoot, filepath.FromSlash(path))
		if d.IsDir() {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("could not make dir %q: %w", fullPath, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fm.FS, path)
		if err != nil {
			return fmt.Errorf("could not read %q from mount %s: %w", path, fm.MountName, err)
		}
		if err := os.WriteFile(fullPath, data, 0644); err != nil {
			return fmt.Errorf("could not write %q: %w", fullPath, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return mountRoot, nil
}
