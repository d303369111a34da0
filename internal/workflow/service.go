// Package workflow implements the pull-request review and merge state
// machine over forks and the canonical dataset store.
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"datasetstudio/api/internal/dataset"
	"datasetstudio/api/internal/diff"
	"datasetstudio/api/internal/store"
	"datasetstudio/api/internal/util"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("pull request is not open")
	ErrDuplicateOpenPR = errors.New("an open pull request already exists for this dataset")
	ErrNoFork          = errors.New("no changes have been made to this dataset yet")
	ErrWriteFailed     = errors.New("failed to write canonical dataset")
)

// Store is the persistent-store surface the state machine needs.
type Store interface {
	GetFork(ctx context.Context, username, datasetPath string) (store.Fork, error)
	CreatePullRequest(ctx context.Context, pr store.PullRequest) error
	GetPullRequest(ctx context.Context, prID string) (store.PullRequest, error)
	ListPullRequests(ctx context.Context) ([]store.PullRequest, error)
	HasOpenPullRequest(ctx context.Context, username, datasetPath string) (bool, error)
	MarkPullRequestMerged(ctx context.Context, prID string, accepted, rejected int) (bool, error)
	MarkPullRequestRejected(ctx context.Context, prID string) error
	AddAcceptedSamples(ctx context.Context, username string, n int) error
}

type ProcessResult struct {
	AcceptedCount int `json:"accepted_count"`
	RejectedCount int `json:"rejected_count"`
}

type Service struct {
	store  Store
	data   *dataset.Store
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(dataStore Store, canonical *dataset.Store) *Service {
	return &Service{
		store: dataStore,
		data:  canonical,
		locks: make(map[string]*sync.Mutex),
	}
}

// Create opens a PR proposing the caller's fork of datasetPath. The
// fork must exist and there must be no other open PR for the pair.
func (s *Service) Create(ctx context.Context, username, datasetPath, description string) (store.PullRequest, error) {
	if _, err := s.store.GetFork(ctx, username, datasetPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.PullRequest{}, ErrNoFork
		}
		return store.PullRequest{}, fmt.Errorf("lookup fork: %w", err)
	}

	open, err := s.store.HasOpenPullRequest(ctx, username, datasetPath)
	if err != nil {
		return store.PullRequest{}, err
	}
	if open {
		return store.PullRequest{}, ErrDuplicateOpenPR
	}

	pr := store.PullRequest{
		ID:          util.NewID("pr"),
		Username:    username,
		DatasetPath: datasetPath,
		Status:      store.StatusOpen,
		Description: description,
	}
	if err := s.store.CreatePullRequest(ctx, pr); err != nil {
		return store.PullRequest{}, err
	}
	return s.store.GetPullRequest(ctx, pr.ID)
}

// List returns every PR, newest first. Authorization to act on an
// entry is the caller's concern, not this component's.
func (s *Service) List(ctx context.Context) ([]store.PullRequest, error) {
	return s.store.ListPullRequests(ctx)
}

func (s *Service) Get(ctx context.Context, prID string) (store.PullRequest, error) {
	pr, err := s.store.GetPullRequest(ctx, prID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.PullRequest{}, fmt.Errorf("pull request %s: %w", prID, ErrNotFound)
		}
		return store.PullRequest{}, err
	}
	return pr, nil
}

// Diff compares the PR's fork against the current canonical content.
// Side-effect free; the fork is looked up live, so edits after PR
// creation are visible to the reviewer.
func (s *Service) Diff(ctx context.Context, prID string) (diff.Result, error) {
	pr, err := s.Get(ctx, prID)
	if err != nil {
		return diff.Result{}, err
	}

	fork, err := s.store.GetFork(ctx, pr.Username, pr.DatasetPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return diff.Result{}, fmt.Errorf("fork for pull request %s: %w", prID, ErrNotFound)
		}
		return diff.Result{}, fmt.Errorf("lookup fork: %w", err)
	}

	canonical, err := s.data.Read(pr.DatasetPath)
	if err != nil {
		return diff.Result{}, err
	}

	return diff.Compute(canonical, fork.Content), nil
}

// MergeAll replaces the whole canonical file with the fork content and
// closes the PR. No per-entry selection.
func (s *Service) MergeAll(ctx context.Context, prID string) error {
	pr, err := s.Get(ctx, prID)
	if err != nil {
		return err
	}

	unlock := s.lockDataset(pr.DatasetPath)
	defer unlock()

	if pr.Status != store.StatusOpen {
		return ErrInvalidState
	}

	fork, err := s.store.GetFork(ctx, pr.Username, pr.DatasetPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("fork for pull request %s: %w", prID, ErrNotFound)
		}
		return fmt.Errorf("lookup fork: %w", err)
	}

	if err := s.data.Write(pr.DatasetPath, fork.Content); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	// Status flips only after the durable write; if the PR was closed
	// concurrently the content write has already landed and re-running
	// is a safe no-op for content.
	merged, err := s.store.MarkPullRequestMerged(ctx, prID, pr.AcceptedCount, pr.RejectedCount)
	if err != nil {
		return err
	}
	if !merged {
		return ErrInvalidState
	}
	return nil
}

// Process applies only the accepted entry indices from the fork onto
// the canonical sequence, then closes the PR and credits the author.
func (s *Service) Process(ctx context.Context, prID string, acceptedIndices []int) (ProcessResult, error) {
	pr, err := s.Get(ctx, prID)
	if err != nil {
		return ProcessResult{}, err
	}

	unlock := s.lockDataset(pr.DatasetPath)
	defer unlock()

	if pr.Status != store.StatusOpen {
		return ProcessResult{}, ErrInvalidState
	}

	fork, err := s.store.GetFork(ctx, pr.Username, pr.DatasetPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProcessResult{}, fmt.Errorf("fork for pull request %s: %w", prID, ErrNotFound)
		}
		return ProcessResult{}, fmt.Errorf("lookup fork: %w", err)
	}

	canonical, err := s.data.Read(pr.DatasetPath)
	if err != nil {
		return ProcessResult{}, err
	}

	merged := make([]json.RawMessage, len(canonical))
	copy(merged, canonical)
	for len(merged) < len(fork.Content) {
		merged = append(merged, json.RawMessage("null"))
	}

	accepted := 0
	seen := make(map[int]bool, len(acceptedIndices))
	for _, idx := range acceptedIndices {
		if idx < 0 || idx >= len(fork.Content) || seen[idx] {
			// Out-of-range indices are ignored and do not count.
			continue
		}
		seen[idx] = true
		merged[idx] = fork.Content[idx]
		accepted++
	}
	rejected := len(fork.Content) - accepted

	if err := s.data.Write(pr.DatasetPath, merged); err != nil {
		return ProcessResult{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	closed, err := s.store.MarkPullRequestMerged(ctx, prID, accepted, rejected)
	if err != nil {
		return ProcessResult{}, err
	}
	if !closed {
		return ProcessResult{}, ErrInvalidState
	}

	if err := s.store.AddAcceptedSamples(ctx, pr.Username, accepted); err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{AcceptedCount: accepted, RejectedCount: rejected}, nil
}

// Reject closes the PR without touching canonical content. The
// transition is unconditional: rejecting an already-closed PR simply
// overwrites its status, matching the terminal-idempotent contract.
func (s *Service) Reject(ctx context.Context, prID string) error {
	if _, err := s.Get(ctx, prID); err != nil {
		return err
	}
	return s.store.MarkPullRequestRejected(ctx, prID)
}

// lockDataset serializes read-modify-write cycles per dataset path so
// two concurrent merges cannot interleave canonical writes.
func (s *Service) lockDataset(datasetPath string) func() {
	s.lockMu.Lock()
	lock, ok := s.locks[datasetPath]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[datasetPath] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}
