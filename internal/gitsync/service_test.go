package gitsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc := New(dir, "Dataset Studio", "admin@dataset.studio", 30*time.Second)
	if err := svc.EnsureInitialized(); err != nil {
		t.Fatalf("EnsureInitialized() error = %v", err)
	}
	return svc, dir
}

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, true); err != nil {
		t.Fatalf("init bare remote: %v", err)
	}
	return dir
}

func writeDataset(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureInitializedIdempotent(t *testing.T) {
	svc, dir := newTestService(t)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Fatalf("expected git repository: %v", err)
	}
	if err := svc.EnsureInitialized(); err != nil {
		t.Fatalf("second EnsureInitialized() error = %v", err)
	}
}

func TestRemoteURLRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.RemoteURL(); !errors.Is(err, ErrNoRemote) {
		t.Fatalf("RemoteURL() error = %v, want ErrNoRemote", err)
	}

	if err := svc.SetRemoteURL("https://example.com/data.git"); err != nil {
		t.Fatalf("SetRemoteURL() error = %v", err)
	}
	url, err := svc.RemoteURL()
	if err != nil {
		t.Fatalf("RemoteURL() error = %v", err)
	}
	if url != "https://example.com/data.git" {
		t.Fatalf("RemoteURL() = %q", url)
	}

	// Re-pointing replaces the previous remote.
	if err := svc.SetRemoteURL("https://example.com/other.git"); err != nil {
		t.Fatalf("SetRemoteURL() replace error = %v", err)
	}
	url, err = svc.RemoteURL()
	if err != nil {
		t.Fatalf("RemoteURL() error = %v", err)
	}
	if url != "https://example.com/other.git" {
		t.Fatalf("RemoteURL() after replace = %q", url)
	}
}

func TestPushWithoutRemote(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Push(context.Background()); !errors.Is(err, ErrNoRemote) {
		t.Fatalf("Push() error = %v, want ErrNoRemote", err)
	}
}

func TestPushPublishesChanges(t *testing.T) {
	svc, dir := newTestService(t)
	remote := newBareRemote(t)
	if err := svc.SetRemoteURL(remote); err != nil {
		t.Fatalf("SetRemoteURL() error = %v", err)
	}

	writeDataset(t, dir, "multi-turn/chat.json", `[{"a":1}]`+"\n")
	if err := svc.Push(context.Background()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	bare, err := git.PlainOpen(remote)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := bare.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		t.Fatalf("remote main missing: %v", err)
	}
	commitObj, err := bare.CommitObject(ref.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if commitObj.Message != "Update dataset from Dataset Studio" {
		t.Fatalf("commit message = %q", commitObj.Message)
	}
	if _, err := commitObj.File("multi-turn/chat.json"); err != nil {
		t.Fatalf("pushed commit missing dataset file: %v", err)
	}

	if err := svc.Push(context.Background()); !errors.Is(err, ErrNoChanges) {
		t.Fatalf("second Push() error = %v, want ErrNoChanges", err)
	}
}

func TestPushThenModifyPushesAgain(t *testing.T) {
	svc, dir := newTestService(t)
	remote := newBareRemote(t)
	if err := svc.SetRemoteURL(remote); err != nil {
		t.Fatal(err)
	}

	writeDataset(t, dir, "single-turn/qa.json", `[{"q":"a"}]`+"\n")
	if err := svc.Push(context.Background()); err != nil {
		t.Fatalf("first Push() error = %v", err)
	}
	writeDataset(t, dir, "single-turn/qa.json", `[{"q":"b"}]`+"\n")
	if err := svc.Push(context.Background()); err != nil {
		t.Fatalf("second Push() error = %v", err)
	}
}

func TestPullFastForward(t *testing.T) {
	svc, dir := newTestService(t)
	remote := newBareRemote(t)
	if err := svc.SetRemoteURL(remote); err != nil {
		t.Fatal(err)
	}
	writeDataset(t, dir, "multi-turn/chat.json", `[{"a":1}]`+"\n")
	if err := svc.Push(context.Background()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	// A second working copy publishes an update.
	otherDir := t.TempDir()
	if _, err := git.PlainClone(otherDir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(mainBranch),
	}); err != nil {
		t.Fatalf("clone remote: %v", err)
	}
	other := New(otherDir, "Dataset Studio", "admin@dataset.studio", 30*time.Second)
	writeDataset(t, otherDir, "multi-turn/chat.json", `[{"a":2}]`+"\n")
	if err := other.Push(context.Background()); err != nil {
		t.Fatalf("other Push() error = %v", err)
	}

	if err := svc.Pull(context.Background()); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "multi-turn/chat.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[{"a":2}]`+"\n" {
		t.Fatalf("pulled content = %q", data)
	}
}

func TestAheadOfRemoteWithDivergedHistories(t *testing.T) {
	svc, dir := newTestService(t)
	remote := newBareRemote(t)
	if err := svc.SetRemoteURL(remote); err != nil {
		t.Fatal(err)
	}
	writeDataset(t, dir, "multi-turn/chat.json", `[{"a":1}]`+"\n")
	if err := svc.Push(context.Background()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	// A second working copy moves the remote ahead of us.
	otherDir := t.TempDir()
	if _, err := git.PlainClone(otherDir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(mainBranch),
	}); err != nil {
		t.Fatalf("clone remote: %v", err)
	}
	other := New(otherDir, "Dataset Studio", "admin@dataset.studio", 30*time.Second)
	writeDataset(t, otherDir, "multi-turn/chat.json", `[{"a":2}]`+"\n")
	if err := other.Push(context.Background()); err != nil {
		t.Fatalf("other Push() error = %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.FetchContext(context.Background(), &git.FetchOptions{RemoteName: remoteName}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		t.Fatalf("fetch: %v", err)
	}

	// Behind with a clean worktree: nothing of ours to publish.
	ahead, err := svc.aheadOfRemote(repo)
	if err != nil {
		t.Fatalf("aheadOfRemote() error = %v", err)
	}
	if ahead {
		t.Fatal("behind branch reported as ahead")
	}

	// A commit on the stale local branch diverges the histories; the
	// unpublished commit must still be detected.
	writeDataset(t, dir, "single-turn/qa.json", `[{"q":"local"}]`+"\n")
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := worktree.Commit("local edit", &git.CommitOptions{
		Author: &object.Signature{Name: "Dataset Studio", Email: "admin@dataset.studio", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	ahead, err = svc.aheadOfRemote(repo)
	if err != nil {
		t.Fatalf("aheadOfRemote() error = %v", err)
	}
	if !ahead {
		t.Fatal("diverged branch reported as not ahead")
	}
}

func TestPullWithoutRemote(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Pull(context.Background()); !errors.Is(err, ErrNoRemote) {
		t.Fatalf("Pull() error = %v, want ErrNoRemote", err)
	}
}

func TestPullResetsToRemoteOnUnrelatedHistory(t *testing.T) {
	// Populate the remote from an unrelated working copy first.
	remote := newBareRemote(t)
	seedDir := t.TempDir()
	seed := New(seedDir, "Dataset Studio", "admin@dataset.studio", 30*time.Second)
	if err := seed.EnsureInitialized(); err != nil {
		t.Fatal(err)
	}
	if err := seed.SetRemoteURL(remote); err != nil {
		t.Fatal(err)
	}
	writeDataset(t, seedDir, "multi-turn/chat.json", `[{"a":1}]`+"\n")
	if err := seed.Push(context.Background()); err != nil {
		t.Fatalf("seed Push() error = %v", err)
	}

	// Local repo has its own disjoint history.
	svc, dir := newTestService(t)
	if err := svc.SetRemoteURL(remote); err != nil {
		t.Fatal(err)
	}
	writeDataset(t, dir, "single-turn/local.json", `[{"q":"local"}]`+"\n")
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := worktree.Commit("local only", &git.CommitOptions{
		Author: &object.Signature{Name: "Dataset Studio", Email: "admin@dataset.studio", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Pull(context.Background()); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "multi-turn/chat.json")); err != nil {
		t.Fatalf("remote content missing after recovery pull: %v", err)
	}
}

func TestMaskURL(t *testing.T) {
	cases := map[string]string{
		"https://token@github.com/org/data.git":   "https://***@github.com/org/data.git",
		"https://user:pw@github.com/org/data.git": "https://***@github.com/org/data.git",
		"https://github.com/org/data.git":         "https://github.com/org/data.git",
		"git@github.com:org/data.git":             "git@github.com:org/data.git",
	}
	for input, want := range cases {
		if got := maskURL(input); got != want {
			t.Errorf("maskURL(%q) = %q, want %q", input, got, want)
		}
	}
}
