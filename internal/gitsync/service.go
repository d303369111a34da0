// Package gitsync keeps the on-disk dataset directory in sync with an
// optional git remote. The directory itself is a working git repository
// whose main branch mirrors origin/main.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoChanges reports that a push found nothing new to publish.
var ErrNoChanges = errors.New("no changes to push (did you merge the pull request?)")

// ErrNoRemote reports that no origin remote has been configured yet.
var ErrNoRemote = errors.New("no git remote configured")

const (
	remoteName = "origin"
	mainBranch = "main"
)

type Service struct {
	dir            string
	committerName  string
	committerEmail string
	commitMessage  string
	timeout        time.Duration

	mu sync.Mutex
}

func New(dir, committerName, committerEmail string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		dir:            dir,
		committerName:  committerName,
		committerEmail: committerEmail,
		commitMessage:  "Update dataset from Dataset Studio",
		timeout:        timeout,
	}
}

// EnsureInitialized opens the repository at the dataset directory,
// initializing a fresh one when none exists yet.
func (s *Service) EnsureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.open()
	return err
}

// RemoteURL returns the configured origin URL, or ErrNoRemote.
func (s *Service) RemoteURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return "", err
	}
	remote, err := repo.Remote(remoteName)
	if err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return "", ErrNoRemote
		}
		return "", fmt.Errorf("read remote: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", ErrNoRemote
	}
	return urls[0], nil
}

// SetRemoteURL points origin at url, replacing any previous remote.
func (s *Service) SetRemoteURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	if _, err := repo.Remote(remoteName); err == nil {
		if err := repo.DeleteRemote(remoteName); err != nil {
			return fmt.Errorf("replace remote: %w", err)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("read remote: %w", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{url},
	}); err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	return nil
}

// Pull updates the local main branch from origin. A normal pull is
// attempted first; when it fails (diverged history, detached state) the
// local main is hard-reset to origin/main instead.
func (s *Service) Pull(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	if _, err := repo.Remote(remoteName); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return ErrNoRemote
		}
		return fmt.Errorf("read remote: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	pullErr := worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(mainBranch),
	})
	if pullErr == nil || errors.Is(pullErr, git.NoErrAlreadyUpToDate) {
		return nil
	}

	if err := s.resetToRemote(ctx, repo, worktree); err != nil {
		return fmt.Errorf("pull failed: %v; recovery failed: %w", pullErr, err)
	}
	return nil
}

// Push stages every change under the dataset directory, commits, and
// pushes main to origin. Returns ErrNoChanges when the worktree is
// clean and main is already published.
func (s *Service) Push(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	if _, err := repo.Remote(remoteName); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return ErrNoRemote
		}
		return fmt.Errorf("read remote: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	if status.IsClean() {
		ahead, err := s.aheadOfRemote(repo)
		if err != nil {
			return err
		}
		if !ahead {
			return ErrNoChanges
		}
	} else {
		_, err = worktree.Commit(s.commitMessage, &git.CommitOptions{
			Author: &object.Signature{
				Name:  s.committerName,
				Email: s.committerEmail,
				When:  time.Now(),
			},
		})
		if err != nil && !errors.Is(err, git.ErrEmptyCommit) {
			return fmt.Errorf("commit changes: %w", err)
		}
	}

	err = repo.PushContext(ctx, &git.PushOptions{RemoteName: remoteName})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push to %s: %w", remoteName, err)
	}
	return nil
}

func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) resetToRemote(ctx context.Context, repo *git.Repository, worktree *git.Worktree) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remoteName})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", remoteName, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, mainBranch), true)
	if err != nil {
		return fmt.Errorf("resolve %s/%s: %w", remoteName, mainBranch, err)
	}

	branchRef := plumbing.NewBranchReferenceName(mainBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
		return fmt.Errorf("move %s to %s: %w", mainBranch, remoteRef.Hash(), err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", mainBranch, err)
	}
	return nil
}

// aheadOfRemote reports whether local main holds commits origin/main
// does not. A missing remote-tracking ref counts as ahead so the first
// push after configuring a remote goes through.
func (s *Service) aheadOfRemote(repo *git.Repository) (bool, error) {
	localRef, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve %s: %w", mainBranch, err)
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, mainBranch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("resolve %s/%s: %w", remoteName, mainBranch, err)
	}
	if localRef.Hash() == remoteRef.Hash() {
		return false, nil
	}

	// rev-list origin/main..HEAD: any local commit unreachable from the
	// remote branch is unpublished, even when the histories have
	// diverged. A branch that is merely behind has every commit
	// reachable from the remote side.
	published := make(map[plumbing.Hash]struct{})
	remoteIter, err := repo.Log(&git.LogOptions{From: remoteRef.Hash()})
	if err != nil {
		return false, fmt.Errorf("read remote log: %w", err)
	}
	defer remoteIter.Close()
	err = remoteIter.ForEach(func(commitObj *object.Commit) error {
		published[commitObj.Hash] = struct{}{}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("iterate remote log: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: localRef.Hash()})
	if err != nil {
		return false, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	ahead := false
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if _, ok := published[commitObj.Hash]; !ok {
			ahead = true
			return errStopIter
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIter) {
		return false, fmt.Errorf("iterate log: %w", err)
	}
	return ahead, nil
}

var errStopIter = errors.New("stop iteration")

// Summary describes the sync state for the admin settings page.
type Summary struct {
	RemoteURL  string `json:"remote_url"`
	Configured bool   `json:"configured"`
}

func (s *Service) Summarize() Summary {
	url, err := s.RemoteURL()
	if err != nil {
		return Summary{}
	}
	return Summary{RemoteURL: maskURL(url), Configured: true}
}

// maskURL hides credentials embedded in https remote URLs.
func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return url
	}
	return url[:scheme+3] + "***@" + url[at+1:]
}
