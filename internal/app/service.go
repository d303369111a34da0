package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datasetstudio/api/internal/auth"
	"datasetstudio/api/internal/authpw"
	"datasetstudio/api/internal/config"
	"datasetstudio/api/internal/dataset"
	"datasetstudio/api/internal/diff"
	"datasetstudio/api/internal/email"
	"datasetstudio/api/internal/export"
	"datasetstudio/api/internal/gitsync"
	"datasetstudio/api/internal/search"
	"datasetstudio/api/internal/store"
	"datasetstudio/api/internal/util"
	"datasetstudio/api/internal/workflow"

	"golang.org/x/crypto/bcrypt"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	ListUsers(ctx context.Context) ([]store.User, error)
	DeleteUser(ctx context.Context, username string) (bool, error)
	SetVerificationCode(ctx context.Context, username, code string, expiresAt time.Time) error
	MarkUserVerified(ctx context.Context, username string) error
	AddRejectedSamples(ctx context.Context, username string, n int) error
	SetUserRole(ctx context.Context, username, role string) error
	UpsertFork(ctx context.Context, fork store.Fork) error
	GetFork(ctx context.Context, username, datasetPath string) (store.Fork, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh sessions. Redis when configured,
// Postgres otherwise.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// SnapshotStore archives canonical dataset payloads after merges.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, datasetPath string, payload []byte) (string, error)
	ListSnapshots(ctx context.Context, datasetPath string) ([]string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  SessionStore
	data      *dataset.Store
	workflow  *workflow.Service
	git       *gitsync.Service
	passwords *authpw.Service
	mailer    *email.Service
	search    *search.Service
	snapshots SnapshotStore
}

// New wires the application service. snapshots may be nil when object
// storage is not configured.
func New(
	cfg config.Config,
	dataStore dataStore,
	sessions SessionStore,
	data *dataset.Store,
	reviews *workflow.Service,
	git *gitsync.Service,
	passwords *authpw.Service,
	mailer *email.Service,
	searchSvc *search.Service,
	snapshots SnapshotStore,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		data:      data,
		workflow:  reviews,
		git:       git,
		passwords: passwords,
		mailer:    mailer,
		search:    searchSvc,
		snapshots: snapshots,
	}
}

// Bootstrap prepares the dataset directory, seeds the first admin
// account, and warms the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, category := range dataset.Categories {
		if err := os.MkdirAll(filepath.Join(s.data.BaseDir(), category), 0o755); err != nil {
			return fmt.Errorf("create category dir %s: %w", category, err)
		}
	}

	if s.cfg.AdminPassword != "" {
		if _, err := s.store.GetUserByUsername(ctx, s.cfg.AdminUsername); err != nil {
			hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash admin password: %w", err)
			}
			if err := s.store.CreateUser(ctx, store.User{
				ID:           util.NewID("usr"),
				Username:     s.cfg.AdminUsername,
				Email:        s.cfg.AdminEmail,
				FullName:     "Administrator",
				PasswordHash: string(hash),
				Role:         "admin",
				IsVerified:   true,
			}); err != nil {
				return fmt.Errorf("seed admin user: %w", err)
			}
			log.Printf("bootstrap: created admin account %q", s.cfg.AdminUsername)
		}
	}

	go s.search.ReindexAll()
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SMTPConfigured reports whether outgoing email is available.
func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// Register creates an unverified account and emails its verification
// code. The code is returned so the HTTP layer can expose it in dev
// setups without SMTP.
func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (store.User, string, error) {
	resp, err := s.passwords.Register(ctx, req)
	if err != nil {
		return store.User{}, "", err
	}
	s.sendVerificationCode(resp.User, resp.VerificationCode)
	return resp.User, resp.VerificationCode, nil
}

func (s *Service) sendVerificationCode(user store.User, code string) {
	if !s.SMTPConfigured() || user.Email == "" {
		return
	}
	go func() {
		if err := s.mailer.SendVerificationCode(user.Email, displayName(user), code); err != nil {
			log.Printf("email: send verification code to %s: %v", user.Username, err)
		}
	}()
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.Login(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) VerifyEmail(ctx context.Context, username, code string) error {
	return s.passwords.VerifyCode(ctx, username, code)
}

// ResendVerification issues and emails a fresh code.
func (s *Service) ResendVerification(ctx context.Context, username string) (string, error) {
	user, code, err := s.passwords.ResendCode(ctx, username)
	if err != nil {
		return "", err
	}
	s.sendVerificationCode(user, code)
	return code, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Username: user.Username,
		Role:     user.Role,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// UserPayload is the public view of an account.
type UserPayload struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	FullName    string            `json:"full_name"`
	Role        string            `json:"role"`
	IsVerified  bool              `json:"is_verified"`
	SampleStats store.SampleStats `json:"sample_stats"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toUserPayload(user store.User) UserPayload {
	return UserPayload{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		FullName:    user.FullName,
		Role:        user.Role,
		IsVerified:  user.IsVerified,
		SampleStats: user.SampleStats,
		CreatedAt:   user.CreatedAt,
	}
}

func displayName(user store.User) string {
	if strings.TrimSpace(user.FullName) != "" {
		return user.FullName
	}
	return user.Username
}

func (s *Service) Me(ctx context.Context, session Session) (UserPayload, error) {
	user, err := s.store.GetUserByUsername(ctx, session.Username)
	if err != nil {
		return UserPayload{}, err
	}
	return toUserPayload(user), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserPayload, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payloads := make([]UserPayload, 0, len(users))
	for _, user := range users {
		payloads = append(payloads, toUserPayload(user))
	}
	return payloads, nil
}

// CreateUser is the admin path: the account is created verified with
// an explicit role.
func (s *Service) CreateUser(ctx context.Context, req authpw.RegisterRequest, role string) (UserPayload, error) {
	if role != "user" && role != "admin" {
		return UserPayload{}, domainError(422, "VALIDATION_ERROR", "role must be user or admin", nil)
	}
	resp, err := s.passwords.Register(ctx, req)
	if err != nil {
		return UserPayload{}, err
	}
	if err := s.store.MarkUserVerified(ctx, resp.User.Username); err != nil {
		return UserPayload{}, fmt.Errorf("verify created user: %w", err)
	}
	user := resp.User
	user.IsVerified = true
	user.Role = role
	if role != "user" {
		// Register always assigns the user role; promote explicitly.
		if err := s.store.SetUserRole(ctx, user.Username, role); err != nil {
			return UserPayload{}, fmt.Errorf("set role: %w", err)
		}
	}
	return toUserPayload(user), nil
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	deleted, err := s.store.DeleteUser(ctx, username)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(404, "NOT_FOUND", "user not found", nil)
	}
	return nil
}

// DatasetPayload is one dataset file with its records, possibly
// overlaid with the caller's fork.
type DatasetPayload struct {
	Path       string            `json:"path"`
	Records    []json.RawMessage `json:"records"`
	IsFork     bool              `json:"is_fork"`
	HasChanges bool              `json:"has_changes"`
}

func (s *Service) ListDatasets(ctx context.Context) ([]dataset.Info, error) {
	return s.data.List()
}

// GetDataset returns the canonical records, or the caller's fork when
// useFork is set and a fork exists.
func (s *Service) GetDataset(ctx context.Context, username, datasetPath string, useFork bool) (DatasetPayload, error) {
	if _, err := s.data.Resolve(datasetPath); err != nil {
		return DatasetPayload{}, err
	}
	canonical, err := s.data.Read(datasetPath)
	if err != nil {
		return DatasetPayload{}, err
	}

	payload := DatasetPayload{Path: datasetPath, Records: canonical}
	if !useFork {
		return payload, nil
	}

	fork, err := s.store.GetFork(ctx, username, datasetPath)
	if err != nil {
		// No fork yet: serve canonical.
		return payload, nil
	}
	payload.Records = fork.Content
	payload.IsFork = true
	payload.HasChanges = diff.Compute(canonical, fork.Content).TotalChanges > 0
	return payload, nil
}

// DeleteDataset removes a canonical file and drops its samples from
// the search index.
func (s *Service) DeleteDataset(ctx context.Context, datasetPath string) error {
	if _, err := s.data.Resolve(datasetPath); err != nil {
		return err
	}
	if !s.data.Exists(datasetPath) {
		return domainError(404, "NOT_FOUND", "dataset not found", nil)
	}
	if err := s.data.Delete(datasetPath); err != nil {
		return err
	}
	s.search.DeleteDataset(datasetPath)
	log.Printf("dataset: deleted %s", datasetPath)
	return nil
}

// ListSnapshots names the archived copies of a dataset, oldest first.
func (s *Service) ListSnapshots(ctx context.Context, datasetPath string) ([]string, error) {
	if _, err := s.data.Resolve(datasetPath); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, domainError(400, "SNAPSHOTS_DISABLED", "snapshot storage is not configured", nil)
	}
	return s.snapshots.ListSnapshots(ctx, datasetPath)
}

// SaveFork stores the caller's full-replacement draft of a dataset.
func (s *Service) SaveFork(ctx context.Context, username, datasetPath string, records []json.RawMessage) error {
	if _, err := s.data.Resolve(datasetPath); err != nil {
		return err
	}
	return s.store.UpsertFork(ctx, store.Fork{
		ID:          util.NewID("fork"),
		Username:    username,
		DatasetPath: datasetPath,
		Content:     records,
	})
}

func (s *Service) CreatePR(ctx context.Context, username, datasetPath, description string) (store.PullRequest, error) {
	if _, err := s.data.Resolve(datasetPath); err != nil {
		return store.PullRequest{}, err
	}
	pr, err := s.workflow.Create(ctx, username, datasetPath, description)
	if err != nil {
		return store.PullRequest{}, err
	}
	log.Printf("workflow: %s opened pull request %s for %s", username, pr.ID, datasetPath)
	return pr, nil
}

func (s *Service) ListPRs(ctx context.Context) ([]store.PullRequest, error) {
	return s.workflow.List(ctx)
}

func (s *Service) DiffPR(ctx context.Context, prID string) (diff.Result, error) {
	return s.workflow.Diff(ctx, prID)
}

func (s *Service) MergePR(ctx context.Context, prID string) (store.PullRequest, error) {
	pr, err := s.workflow.Get(ctx, prID)
	if err != nil {
		return store.PullRequest{}, err
	}
	if err := s.workflow.MergeAll(ctx, prID); err != nil {
		return store.PullRequest{}, err
	}
	s.afterReview(ctx, pr, "merged")
	return s.workflow.Get(ctx, prID)
}

func (s *Service) ProcessPR(ctx context.Context, prID string, acceptedIndices []int) (workflow.ProcessResult, error) {
	pr, err := s.workflow.Get(ctx, prID)
	if err != nil {
		return workflow.ProcessResult{}, err
	}
	result, err := s.workflow.Process(ctx, prID, acceptedIndices)
	if err != nil {
		return workflow.ProcessResult{}, err
	}
	if result.RejectedCount > 0 {
		if err := s.store.AddRejectedSamples(ctx, pr.Username, result.RejectedCount); err != nil {
			log.Printf("workflow: record rejected samples for %s: %v", pr.Username, err)
		}
	}
	s.afterReview(ctx, pr, "merged")
	return result, nil
}

func (s *Service) RejectPR(ctx context.Context, prID string) error {
	pr, err := s.workflow.Get(ctx, prID)
	if err != nil {
		return err
	}
	if err := s.workflow.Reject(ctx, prID); err != nil {
		return err
	}
	s.notifyReviewOutcome(ctx, pr, "rejected", 0, 0)
	return nil
}

// afterReview runs the post-merge side effects: refresh the search
// index, snapshot the canonical file, and notify the author. All of it
// is best effort; the merge itself already committed.
func (s *Service) afterReview(ctx context.Context, pr store.PullRequest, outcome string) {
	records, err := s.data.Read(pr.DatasetPath)
	if err != nil {
		log.Printf("workflow: reread %s after merge: %v", pr.DatasetPath, err)
		return
	}

	s.search.IndexDataset(pr.DatasetPath, records)

	if s.snapshots != nil {
		payload, err := json.MarshalIndent(records, "", "  ")
		if err == nil {
			go func() {
				snapCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				name, err := s.snapshots.PutSnapshot(snapCtx, pr.DatasetPath, payload)
				if err != nil {
					log.Printf("archive: snapshot %s: %v", pr.DatasetPath, err)
					return
				}
				log.Printf("archive: stored snapshot %s", name)
			}()
		}
	}

	merged, err := s.workflow.Get(ctx, pr.ID)
	if err != nil {
		merged = pr
	}
	s.notifyReviewOutcome(ctx, merged, outcome, merged.AcceptedCount, merged.RejectedCount)
}

func (s *Service) notifyReviewOutcome(ctx context.Context, pr store.PullRequest, outcome string, accepted, rejected int) {
	if !s.SMTPConfigured() {
		return
	}
	user, err := s.store.GetUserByUsername(ctx, pr.Username)
	if err != nil || user.Email == "" {
		return
	}
	go func() {
		if err := s.mailer.SendReviewOutcome(user.Email, displayName(user), pr.DatasetPath, outcome, accepted, rejected); err != nil {
			log.Printf("email: notify %s about %s: %v", pr.Username, pr.ID, err)
		}
	}()
}

// ExportPR renders a review report for a pull request.
func (s *Service) ExportPR(ctx context.Context, prID string, format export.Format) (*export.Result, error) {
	pr, err := s.workflow.Get(ctx, prID)
	if err != nil {
		return nil, err
	}
	diffResult, err := s.workflow.Diff(ctx, prID)
	if err != nil {
		return nil, err
	}
	return export.Export(export.Report{
		PRID:          pr.ID,
		Author:        pr.Username,
		DatasetPath:   pr.DatasetPath,
		Status:        pr.Status,
		Description:   pr.Description,
		CreatedAt:     pr.CreatedAt,
		AcceptedCount: pr.AcceptedCount,
		RejectedCount: pr.RejectedCount,
		Diff:          diffResult,
	}, format)
}

func (s *Service) GitConfig() gitsync.Summary {
	return s.git.Summarize()
}

func (s *Service) SetGitRemote(url string) error {
	if strings.TrimSpace(url) == "" {
		return domainError(422, "VALIDATION_ERROR", "remote url is required", nil)
	}
	return s.git.SetRemoteURL(url)
}

func (s *Service) GitPull(ctx context.Context) error {
	return s.git.Pull(ctx)
}

func (s *Service) GitPush(ctx context.Context) error {
	return s.git.Push(ctx)
}

func (s *Service) SearchSamples(q search.Query) search.Response {
	return s.search.Search(q)
}
