// Package history keeps one git repository per stored configuration so every
// save and schema upgrade is recoverable.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	documentFile   = "document.json"
	versionTrailer = "schema-version: "
)

// ErrNoHistory is returned when a key has never been committed.
var ErrNoHistory = errors.New("no history")

// Revision is one commit of a configuration document.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records data as the new head of key. Committing unchanged content
// returns the current head instead of an empty commit.
func (s *Service) Commit(key, version string, data []byte, author, message string) (Revision, error) {
	path, err := s.repoPath(key)
	if err != nil {
		return Revision{}, err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := prettyJSON(data)
	if err != nil {
		return Revision{}, err
	}
	if err := os.WriteFile(filepath.Join(path, documentFile), payload, 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", documentFile, err)
	}
	if _, err := worktree.Add(documentFile); err != nil {
		return Revision{}, fmt.Errorf("git add document: %w", err)
	}

	hash, err := worktree.Commit(message+"\n\n"+versionTrailer+version, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@charts.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, err := repo.Head()
		if err != nil {
			return Revision{}, fmt.Errorf("resolve head: %w", err)
		}
		hash = head.Hash()
	} else if err != nil {
		return Revision{}, fmt.Errorf("commit document: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// Log lists revisions of key, newest first.
func (s *Service) Log(key string, limit int) ([]Revision, error) {
	repo, unlock, err := s.open(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Read returns the document stored at revision hash. Abbreviated hashes are
// accepted.
func (s *Service) Read(key, hash string) ([]byte, Revision, error) {
	repo, unlock, err := s.open(key)
	if err != nil {
		return nil, Revision{}, err
	}
	defer unlock()

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(documentFile)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("load %s from commit: %w", documentFile, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read document bytes: %w", err)
	}
	return []byte(content), toRevision(commitObj), nil
}

// TagVersion marks hash as the last revision stored at a schema version,
// e.g. before an upgrade rewrites it. Existing tags are left alone.
func (s *Service) TagVersion(key, hash, version string) error {
	repo, unlock, err := s.open(key)
	if err != nil {
		return err
	}
	defer unlock()

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}
	name := "schema-" + version
	_, err = repo.CreateTag(name, resolved, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "charts",
			Email: "charts@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) open(key string) (*git.Repository, func(), error) {
	path, err := s.repoPath(key)
	if err != nil {
		return nil, nil, err
	}
	lock := s.keyLock(key)
	lock.Lock()
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		lock.Unlock()
		return nil, nil, fmt.Errorf("%s: %w", key, ErrNoHistory)
	}
	if err != nil {
		lock.Unlock()
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, lock.Unlock, nil
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid history key %q", key)
	}
	return filepath.Join(s.baseDir, key), nil
}

func (s *Service) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func toRevision(commitObj *object.Commit) Revision {
	message, version := splitTrailer(commitObj.Message)
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   message,
		Author:    commitObj.Author.Name,
		Version:   version,
		CreatedAt: commitObj.Author.When,
	}
}

func splitTrailer(message string) (string, string) {
	idx := strings.LastIndex(message, "\n\n"+versionTrailer)
	if idx < 0 {
		return strings.TrimSpace(message), ""
	}
	version := strings.TrimSpace(message[idx+2+len(versionTrailer):])
	return strings.TrimSpace(message[:idx]), version
}

func prettyJSON(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("format document: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
