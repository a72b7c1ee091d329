package extension

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/hivemq/hivemq-testcontainer/internal/containerpath"
)

// ArchiveFile is the name the staged extension archive gets inside its folder.
const ArchiveFile = "extension.jar"

// Supplier produces a directory holding an extension ready to be copied into a broker.
type Supplier interface {
	Supply(ctx context.Context) (string, error)
}

// DirSupplier supplies an extension folder that already exists on disk.
type DirSupplier struct {
	path string
}

// Dir returns a supplier for an existing extension folder. The folder name is used as the
// extension id.
func Dir(path string) *DirSupplier {
	return &DirSupplier{path: path}
}

// ID returns the folder name.
func (d *DirSupplier) ID() string {
	return filepath.Base(filepath.Clean(d.path))
}

func (d *DirSupplier) Supply(context.Context) (string, error) {
	abs, err := filepath.Abs(d.path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("extension folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalid, abs)
	}
	return abs, nil
}

// PackagedSupplier stages a descriptor and a prebuilt archive into a temporary folder.
type PackagedSupplier struct {
	ext     Extension
	archive string

	mu     sync.Mutex
	tmpDir string
}

// Packaged returns a supplier that writes the descriptor for ext next to a copy of the archive at
// archivePath. Close removes the staged files.
func Packaged(ext Extension, archivePath string) *PackagedSupplier {
	return &PackagedSupplier{ext: ext, archive: archivePath}
}

// Supply stages the extension and returns its folder. Repeated calls restage into a fresh folder.
func (p *PackagedSupplier) Supply(ctx context.Context) (_ string, retErr error) {
	if err := p.ext.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(p.archive); err != nil {
		return "", fmt.Errorf("extension archive: %w", err)
	}

	tmp, err := os.MkdirTemp("", "hivemq-extension-")
	if err != nil {
		return "", err
	}
	defer func() {
		if retErr != nil {
			retErr = multierr.Append(retErr, os.RemoveAll(tmp))
		}
	}()

	dir := filepath.Join(tmp, p.ext.ID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, DescriptorFile), func(w io.Writer) error {
		return WriteDescriptor(w, p.ext)
	}); err != nil {
		return "", err
	}
	if err := copyFile(p.archive, filepath.Join(dir, ArchiveFile)); err != nil {
		return "", err
	}
	if p.ext.DisabledOnStartup {
		if err := os.WriteFile(filepath.Join(dir, containerpath.DisabledMarker), nil, 0o644); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	prev := p.tmpDir
	p.tmpDir = tmp
	p.mu.Unlock()
	if prev != "" {
		_ = os.RemoveAll(prev)
	}
	return dir, nil
}

// Close removes the staged folder.
func (p *PackagedSupplier) Close() error {
	p.mu.Lock()
	tmp := p.tmpDir
	p.tmpDir = ""
	p.mu.Unlock()
	if tmp == "" {
		return nil
	}
	return os.RemoveAll(tmp)
}

func writeFile(name string, fn func(io.Writer) error) (retErr error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		retErr = multierr.Append(retErr, f.Close())
	}()
	return fn(f)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
