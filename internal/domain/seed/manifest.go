package seed

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/archive"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

// Format is a manifest encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Manifest describes the mounts to seed
type Manifest struct {
	Mounts []Mount `yaml:"mounts" toml:"mounts"`

	// base resolves relative host paths; Load sets it to the file's directory
	base string
}

// Mount is one in-memory filesystem and its initial content. Import and
// Archive name a host directory and a tar file copied in before the listed
// entries are created.
type Mount struct {
	Name    string   `yaml:"name" toml:"name"`
	Import  string   `yaml:"import" toml:"import"`
	Archive string   `yaml:"archive" toml:"archive"`
	Dirs    []string `yaml:"dirs" toml:"dirs"`
	Files   []File   `yaml:"files" toml:"files"`
	Scripts []Script `yaml:"scripts" toml:"scripts"`
}

// File is a regular file. Base64 content is decoded before writing.
type File struct {
	Path    string `yaml:"path" toml:"path"`
	Content string `yaml:"content" toml:"content"`
	Base64  bool   `yaml:"base64" toml:"base64"`
}

// Script is a JavaScript executable
type Script struct {
	Path   string      `yaml:"path" toml:"path"`
	Source string      `yaml:"source" toml:"source"`
	Params []vfs.Param `yaml:"params" toml:"params"`
	Extra  bool        `yaml:"extra" toml:"extra"`
}

// Signature returns the script's argument signature
func (s Script) Signature() vfs.Signature {
	return vfs.Signature{Params: s.Params, Extra: s.Extra}
}

// FormatOf picks the format from a file extension
func FormatOf(file string) (Format, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown manifest format %q", filepath.Ext(file))
}

// Parse decodes and validates a manifest
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	case FormatTOML:
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s manifest: %w", format, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads a manifest file
func Load(file string) (*Manifest, error) {
	format, err := FormatOf(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	m.base = filepath.Dir(file)
	return m, nil
}

// Validate checks names and paths before anything is created
func (m *Manifest) Validate() error {
	seen := make(map[string]bool)
	for i, mount := range m.Mounts {
		if !path.Parse(mount.Name + ":/").IsValid() {
			return fmt.Errorf("mounts[%d]: invalid name %q", i, mount.Name)
		}
		if seen[mount.Name] {
			return fmt.Errorf("mounts[%d]: duplicate name %q", i, mount.Name)
		}
		seen[mount.Name] = true
		if mount.Archive != "" {
			if _, err := archive.CompressionOf(mount.Archive); err != nil {
				return fmt.Errorf("mount %s: %w", mount.Name, err)
			}
		}

		check := func(kind, rel string) error {
			if p := mount.resolve(rel); !p.IsValid() || p.IsRoot() {
				return fmt.Errorf("mount %s: invalid %s path %q", mount.Name, kind, rel)
			}
			return nil
		}
		for _, d := range mount.Dirs {
			if err := check("dir", d); err != nil {
				return err
			}
		}
		for _, f := range mount.Files {
			if err := check("file", f.Path); err != nil {
				return err
			}
		}
		for _, s := range mount.Scripts {
			if err := check("script", s.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m Mount) resolve(rel string) path.Path {
	return path.Parse(m.Name + ":/" + strings.TrimPrefix(rel, "/"))
}

// Seeder applies manifests to a mount manager
type Seeder struct {
	mounts *vfs.Manager
	logger *zap.Logger
	opts   []memfs.Option
}

// NewSeeder creates a seeder. opts configure every filesystem it creates.
func NewSeeder(mounts *vfs.Manager, logger *zap.Logger, opts ...memfs.Option) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{mounts: mounts, logger: logger, opts: opts}
}

// Ensure returns the in-memory mount called name, creating it if needed.
func (s *Seeder) Ensure(name string) (*memfs.FileSystem, error) {
	if fs, err := s.mounts.Get(name); err == nil {
		mem, ok := fs.(*memfs.FileSystem)
		if !ok {
			return nil, fmt.Errorf("mount %s is not an in-memory filesystem", name)
		}
		return mem, nil
	}

	opts := append([]memfs.Option{memfs.WithLogger(s.logger)}, s.opts...)
	fs, err := memfs.New(name, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.mounts.Mount(fs); err != nil {
		return nil, err
	}
	s.logger.Info("Mounted in-memory filesystem", zap.String("mount", name))
	return fs, nil
}

// Apply creates every mount, directory, file and script in m.
func (s *Seeder) Apply(ctx context.Context, m *Manifest) error {
	for _, mount := range m.Mounts {
		fs, err := s.Ensure(mount.Name)
		if err != nil {
			return err
		}

		if err := s.copyIn(ctx, fs, m.hostPath(mount.Import), m.hostPath(mount.Archive)); err != nil {
			return fmt.Errorf("mount %s: %w", mount.Name, err)
		}

		for _, d := range mount.Dirs {
			if err := fs.MkdirAll(ctx, mount.resolve(d)); err != nil {
				return fmt.Errorf("mount %s: dir %s: %w", mount.Name, d, err)
			}
		}

		for _, f := range mount.Files {
			data := []byte(f.Content)
			if f.Base64 {
				if data, err = base64.StdEncoding.DecodeString(f.Content); err != nil {
					return fmt.Errorf("mount %s: file %s: %w", mount.Name, f.Path, err)
				}
			}
			p := mount.resolve(f.Path)
			if err := s.mkdirParent(ctx, fs, p); err != nil {
				return err
			}
			if err := fs.WriteFile(p, data); err != nil {
				return fmt.Errorf("mount %s: file %s: %w", mount.Name, f.Path, err)
			}
		}

		for _, sc := range mount.Scripts {
			p := mount.resolve(sc.Path)
			if err := s.mkdirParent(ctx, fs, p); err != nil {
				return err
			}
			if err := fs.AddScript(p, []byte(sc.Source), sc.Signature()); err != nil {
				return fmt.Errorf("mount %s: script %s: %w", mount.Name, sc.Path, err)
			}
		}

		s.logger.Info("Seeded mount",
			zap.String("mount", mount.Name),
			zap.Int("dirs", len(mount.Dirs)),
			zap.Int("files", len(mount.Files)),
			zap.Int("scripts", len(mount.Scripts)),
		)
	}
	return nil
}

func (m *Manifest) hostPath(p string) string {
	if p == "" || filepath.IsAbs(p) || m.base == "" {
		return p
	}
	return filepath.Join(m.base, p)
}

// copyIn imports a host directory and unpacks an archive into the mount root.
func (s *Seeder) copyIn(ctx context.Context, fs *memfs.FileSystem, dir, file string) error {
	if dir != "" {
		sum, err := archive.ImportDir(ctx, dir, fs, fs.RootPath())
		if err != nil {
			return fmt.Errorf("import %s: %w", dir, err)
		}
		s.logger.Info("Imported host directory",
			zap.String("mount", fs.Name()),
			zap.String("dir", dir),
			zap.Int("files", sum.Files),
			zap.Int("skipped", sum.Skipped))
	}

	if file != "" {
		c, err := archive.CompressionOf(file)
		if err != nil {
			return err
		}
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer f.Close()

		sum, err := archive.Extract(ctx, f, c, fs, fs.RootPath())
		if err != nil {
			return fmt.Errorf("extract %s: %w", file, err)
		}
		s.logger.Info("Extracted archive",
			zap.String("mount", fs.Name()),
			zap.String("archive", file),
			zap.Int("files", sum.Files),
			zap.Int("skipped", sum.Skipped))
	}
	return nil
}

func (s *Seeder) mkdirParent(ctx context.Context, fs *memfs.FileSystem, p path.Path) error {
	parent, ok := p.Parent()
	if !ok || parent.IsRoot() {
		return nil
	}
	return fs.MkdirAll(ctx, parent)
}
