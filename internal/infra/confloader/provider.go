package confloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/maps"
)

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map-based provider.
var ErrReadBytesNotSupported = errors.New("confloader: ReadBytes not supported by map provider, use Read() instead")

// mapProvider is a simple koanf provider that loads configuration from a map.
//
// Note: koanf.Provider supports either ReadBytes() or Read() depending on the
// provider implementation; koanf will use whichever is available.
// For map-based providers, Read() is the appropriate method.
type mapProvider map[string]any

// ReadBytes returns an error as map provider doesn't support byte serialization.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read returns the configuration map.
func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// VarDirProvider reads one value per file from a variable directory. The
// path of a file relative to the root, with separators replaced by dots,
// is the key; the file content without trailing newlines is the value.
// Entries whose name starts with a dot are skipped, which also skips the
// ..data indirection of mounted secrets.
type VarDirProvider struct {
	root string
}

// VarDir creates a provider over root. A missing root yields no values.
func VarDir(root string) *VarDirProvider {
	return &VarDirProvider{root: root}
}

// ReadBytes is not supported.
func (p *VarDirProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read returns the nested configuration map.
func (p *VarDirProvider) Read() (map[string]any, error) {
	flat, err := p.ReadFlat()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, len(flat))
	for k, v := range flat {
		m[k] = v
	}
	return maps.Unflatten(m, "."), nil
}

// ReadFlat returns key -> value for every file under the root.
func (p *VarDirProvider) ReadFlat() (map[string]string, error) {
	out := make(map[string]string)
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return out, nil
	}

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == p.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Mounted secrets expose files as symlinks; follow them.
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read variable %s: %w", rel, err)
		}
		key := strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
		out[key] = strings.TrimRight(string(b), "\r\n")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk variable dir %s: %w", p.root, err)
	}
	return out, nil
}
