package coding

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/macpilot/pkg/security/workspace"
)

// contextLines is the number of lines kept on each side of a search match.
const contextLines = 2

// Match is a single search hit.
type Match struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Context string `json:"context"`
}

// FileStore reads, writes, lists and searches files below the working directory.
type FileStore struct {
	guard *workspace.Guard
}

// NewFileStore creates a file store rooted at the guard's working directory.
func NewFileStore(guard *workspace.Guard) *FileStore {
	return &FileStore{guard: guard}
}

// Root returns the working directory
func (s *FileStore) Root() string {
	return s.guard.Root()
}

// Read returns the whole contents of the file at path.
func (s *FileStore) Read(path string) (string, error) {
	absPath, err := s.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Write creates or overwrites the file at path, creating parent directories
// as needed. It returns the number of bytes written.
func (s *FileStore) Write(path, content string) (int, error) {
	absPath, err := s.guard.Resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	return len(content), nil
}

// List returns the files below path. Without recursion only the names of
// immediate regular files are returned; with recursion every file in the
// subtree is returned relative to path.
func (s *FileStore) List(path string, recursive bool) ([]string, error) {
	absPath, err := s.guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	files := []string{}
	if !recursive {
		entries, err := os.ReadDir(absPath)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				files = append(files, entry.Name())
			}
		}
		return files, nil
	}

	err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == absPath {
				return walkErr
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(absPath, p)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// WalkAndGrep searches every file below path whose base name matches
// filePattern (a glob, "*" when empty) for lines matching re. Reported file
// paths are relative to the working directory.
func (s *FileStore) WalkAndGrep(path string, re *regexp.Regexp, filePattern string) ([]Match, error) {
	absPath, err := s.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	if filePattern == "" {
		filePattern = "*"
	}
	pattern, err := glob.Compile(filePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, err
	}

	matches := []Match{}
	err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !pattern.Match(d.Name()) || isBinaryFile(p) {
			return nil
		}

		content, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil // unreadable files are skipped
		}
		rel, relErr := s.guard.Rel(p)
		if relErr != nil {
			return nil
		}
		matches = append(matches, grepLines(rel, string(content), re)...)
		return nil
	})
	return matches, err
}

func grepLines(file, content string, re *regexp.Regexp) []Match {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	var matches []Match
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		from := max(0, i-contextLines)
		to := min(len(lines), i+contextLines+1)
		matches = append(matches, Match{
			File:    file,
			Line:    i + 1,
			Context: strings.Join(lines[from:to], "\n"),
		})
	}
	return matches
}

// isBinaryFile sniffs the first 512 bytes for NUL bytes.
func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}
