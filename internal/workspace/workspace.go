package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
)

const (
	artifactDirName = "artifact"
	lockDirName     = ".locks"
	tempPrefix      = ".tmp-"
	dirPerm         = 0o750
	filePerm        = 0o640
)

// Store manages the build root. It holds no mutable state of its own; all
// coordination between concurrent compiles happens in the compile package.
type Store struct {
	root           string
	maxSourceBytes int64
}

// NewStore creates the build root if needed and returns a Store rooted there.
func NewStore(root string, maxSourceBytes int64) (*Store, error) {
	if root == "" {
		return nil, ferrors.ConfigError("workspace root is required").Build()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create workspace root").
			WithContext("path", abs).
			Build()
	}
	slog.Info("Using workspace", logfields.Path(abs))
	return &Store{root: abs, maxSourceBytes: maxSourceBytes}, nil
}

// Root returns the absolute build root.
func (s *Store) Root() string { return s.root }

// MaxSourceBytes returns the configured source size bound.
func (s *Store) MaxSourceBytes() int64 { return s.maxSourceBytes }

// SourceFileName returns the file name (not path) of a document's source.
func SourceFileName(name string) string { return name + SourceExt }

// documentDir returns <root>/<name> without creating it.
func (s *Store) documentDir(name string) string {
	return filepath.Join(s.root, name)
}

// SourcePath returns the path of the source file.
func (s *Store) SourcePath(name string) string {
	return filepath.Join(s.documentDir(name), SourceFileName(name))
}

// ArtifactDir returns the stable artifact directory for a document.
func (s *Store) ArtifactDir(name string) string {
	return filepath.Join(s.documentDir(name), artifactDirName)
}

// ArtifactPath returns the public PDF path for a document.
func (s *Store) ArtifactPath(name string) string {
	return filepath.Join(s.ArtifactDir(name), name+".pdf")
}

// WorkspacePath returns the document directory, creating it on first use.
// Concurrent first use is safe: MkdirAll treats an existing directory as success.
func (s *Store) WorkspacePath(name string) (string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	dir := s.documentDir(name)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create document directory").
			WithContext("path", dir).
			Build()
	}
	return dir, nil
}

// LockPath returns the advisory lock file for a document, creating the lock
// directory on first use. Lock files live outside the document directory so
// deleting a document never removes a held lock.
func (s *Store) LockPath(name string) (string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, lockDirName)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create lock directory").
			WithContext("path", dir).
			Build()
	}
	return filepath.Join(dir, name+".lock"), nil
}

// ReadSource returns the source text of a document.
func (s *Store) ReadSource(name string) (string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.SourcePath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound(name)
	}
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read source").
			WithContext("document", name).
			Build()
	}
	return string(data), nil
}

// Exists reports whether a document's source file is present.
func (s *Store) Exists(name string) (bool, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(s.SourcePath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// WriteSource stores text as the document's source, replacing any previous
// version atomically. Size is checked before anything touches the disk.
func (s *Store) WriteSource(name, text string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if int64(len(text)) > s.maxSourceBytes {
		return ferrors.TooLarge("source exceeds maximum size").
			WithContext("document", name).
			WithContext("size", len(text)).
			WithContext("limit", s.maxSourceBytes).
			Build()
	}

	dir, err := s.WorkspacePath(name)
	if err != nil {
		return err
	}
	if err := writeAtomic(dir, SourceFileName(name), strings.NewReader(text)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write source").
			WithContext("document", name).
			Build()
	}
	slog.Debug("Source saved", logfields.Document(name), slog.Int("bytes", len(text)))
	return nil
}

// DeleteSource removes the document directory: source, working files and artifact.
func (s *Store) DeleteSource(name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	dir := s.documentDir(name)
	if _, err := os.Stat(s.SourcePath(name)); errors.Is(err, fs.ErrNotExist) {
		return notFound(name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to delete document").
			WithContext("document", name).
			Build()
	}
	slog.Info("Document deleted", logfields.Document(name))
	return nil
}

// ListSources returns every document name in ascending order.
func (s *Store) ListSources() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to list workspace").
			WithContext("path", s.root).
			Build()
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if canonical, err := NormalizeName(name); err != nil || canonical != name {
			continue
		}
		if info, err := os.Stat(s.SourcePath(name)); err == nil && info.Mode().IsRegular() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// PublishArtifact copies the produced PDF into the artifact slot through a
// temporary file and a rename, replacing the previous artifact atomically.
// Callers must hold the document's compile lock.
func (s *Store) PublishArtifact(name, producedPath string) (string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	src, err := os.Open(producedPath)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to open produced artifact").
			WithContext("path", producedPath).
			Build()
	}
	defer func() { _ = src.Close() }()

	dir := s.ArtifactDir(name)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create artifact directory").
			WithContext("path", dir).
			Build()
	}
	if err := writeAtomic(dir, name+".pdf", src); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to publish artifact").
			WithContext("document", name).
			Build()
	}
	dest := s.ArtifactPath(name)
	slog.Debug("Artifact published", logfields.Document(name), logfields.Path(dest))
	return dest, nil
}

// OpenArtifact opens the published PDF for reading.
func (s *Store) OpenArtifact(name string) (*os.File, os.FileInfo, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.ArtifactPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ferrors.NotFound("artifact not found").
			WithContext("document", name).
			Build()
	}
	if err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to open artifact").
			WithContext("document", name).
			Build()
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// RemoveScratch deletes top-level files in the document directory whose name
// ends with one of exts. The source, the PDF and the .log are never removed.
func (s *Store) RemoveScratch(name string, exts []string) ([]string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	dir := s.documentDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !hasAnySuffix(entry.Name(), exts) || isProtected(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}

// RemoveStaleTemp deletes temporary files left behind by interrupted saves or
// publishes that are older than maxAge. Callers must hold the document lock.
func (s *Store) RemoveStaleTemp(name string, maxAge time.Duration, now time.Time) ([]string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, dir := range []string{s.documentDir(name), s.ArtifactDir(name)} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
				continue
			}
			info, err := entry.Info()
			if err != nil || now.Sub(info.ModTime()) < maxAge {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, err
			}
			removed = append(removed, path)
		}
	}
	return removed, nil
}

func hasAnySuffix(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func isProtected(file string) bool {
	for _, ext := range []string{SourceExt, ".pdf", ".log"} {
		if strings.HasSuffix(file, ext) {
			return true
		}
	}
	return false
}

// writeAtomic writes r into dir/file via a temp file in the same directory.
func writeAtomic(dir, file string, r io.Reader) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+file+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, file)); err != nil {
		cleanup()
		return err
	}
	return nil
}

func notFound(name string) error {
	return ferrors.NotFound("document not found").
		WithContext("document", name).
		Build()
}
