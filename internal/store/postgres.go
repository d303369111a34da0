package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, full_name, password_hash, role, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Username, user.Email, user.FullName, user.PasswordHash, user.Role, user.IsVerified)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, password_hash, role, is_verified,
			COALESCE(verification_code, ''), verification_expires_at,
			accepted_samples, rejected_samples, created_at
		FROM users
		WHERE username=$1
	`, username).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Role,
		&user.IsVerified,
		&user.VerificationCode,
		&user.VerificationExpiresAt,
		&user.SampleStats.Accepted,
		&user.SampleStats.Rejected,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, role, is_verified,
			accepted_samples, rejected_samples, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(
			&item.ID,
			&item.Username,
			&item.Email,
			&item.FullName,
			&item.Role,
			&item.IsVerified,
			&item.SampleStats.Accepted,
			&item.SampleStats.Rejected,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, username string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username=$1`, username)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetVerificationCode(ctx context.Context, username, code string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_code=$2, verification_expires_at=$3
		WHERE username=$1
	`, username, code, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification code: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkUserVerified(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_verified=TRUE, verification_code=NULL, verification_expires_at=NULL
		WHERE username=$1
	`, username)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, username, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET role=$2
		WHERE username=$1
	`, username, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

// AddAcceptedSamples atomically bumps a user's accepted-sample counter.
func (s *PostgresStore) AddAcceptedSamples(ctx context.Context, username string, n int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET accepted_samples = accepted_samples + $2
		WHERE username=$1
	`, username, n)
	if err != nil {
		return fmt.Errorf("add accepted samples: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddRejectedSamples(ctx context.Context, username string, n int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET rejected_samples = rejected_samples + $2
		WHERE username=$1
	`, username, n)
	if err != nil {
		return fmt.Errorf("add rejected samples: %w", err)
	}
	return nil
}

// ---- forks ----

func (s *PostgresStore) UpsertFork(ctx context.Context, fork Fork) error {
	content := fork.Content
	if content == nil {
		content = []json.RawMessage{}
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal fork content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forks (id, username, dataset_path, content, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW())
		ON CONFLICT (username, dataset_path)
		DO UPDATE SET content=EXCLUDED.content, updated_at=NOW()
	`, fork.ID, fork.Username, fork.DatasetPath, string(payload))
	if err != nil {
		return fmt.Errorf("upsert fork: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFork(ctx context.Context, username, datasetPath string) (Fork, error) {
	var fork Fork
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, dataset_path, content, updated_at
		FROM forks
		WHERE username=$1 AND dataset_path=$2
	`, username, datasetPath).Scan(&fork.ID, &fork.Username, &fork.DatasetPath, &payload, &fork.UpdatedAt)
	if err != nil {
		return Fork{}, err
	}
	if err := json.Unmarshal(payload, &fork.Content); err != nil {
		return Fork{}, fmt.Errorf("decode fork content: %w", err)
	}
	return fork, nil
}

// ---- pull requests ----

func (s *PostgresStore) CreatePullRequest(ctx context.Context, pr PullRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pull_requests (id, username, dataset_path, status, description)
		VALUES ($1, $2, $3, $4, $5)
	`, pr.ID, pr.Username, pr.DatasetPath, pr.Status, pr.Description)
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPullRequest(ctx context.Context, prID string) (PullRequest, error) {
	var pr PullRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, dataset_path, status, description, accepted_count, rejected_count, created_at
		FROM pull_requests
		WHERE id=$1
	`, prID).Scan(
		&pr.ID,
		&pr.Username,
		&pr.DatasetPath,
		&pr.Status,
		&pr.Description,
		&pr.AcceptedCount,
		&pr.RejectedCount,
		&pr.CreatedAt,
	)
	if err != nil {
		return PullRequest{}, err
	}
	return pr, nil
}

func (s *PostgresStore) ListPullRequests(ctx context.Context) ([]PullRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, dataset_path, status, description, accepted_count, rejected_count, created_at
		FROM pull_requests
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer rows.Close()

	items := make([]PullRequest, 0)
	for rows.Next() {
		var item PullRequest
		if err := rows.Scan(
			&item.ID,
			&item.Username,
			&item.DatasetPath,
			&item.Status,
			&item.Description,
			&item.AcceptedCount,
			&item.RejectedCount,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) HasOpenPullRequest(ctx context.Context, username, datasetPath string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pull_requests
			WHERE username=$1 AND dataset_path=$2 AND status='open'
		)
	`, username, datasetPath).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open pull request: %w", err)
	}
	return exists, nil
}

// MarkPullRequestMerged is the test-and-set half of the merge: the
// transition only lands if the PR is still open, so a concurrent merge
// on the same PR observes a false return instead of double-applying.
func (s *PostgresStore) MarkPullRequestMerged(ctx context.Context, prID string, accepted, rejected int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pull_requests
		SET status='merged', accepted_count=$2, rejected_count=$3
		WHERE id=$1 AND status='open'
	`, prID, accepted, rejected)
	if err != nil {
		return false, fmt.Errorf("mark pull request merged: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark pull request merged rows: %w", err)
	}
	return affected > 0, nil
}

// MarkPullRequestRejected transitions unconditionally: rejecting an
// already-closed PR simply overwrites its status.
func (s *PostgresStore) MarkPullRequestRejected(ctx context.Context, prID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pull_requests SET status='rejected' WHERE id=$1`, prID)
	if err != nil {
		return fmt.Errorf("mark pull request rejected: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is absent) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.role, u.is_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Username, &user.Role, &user.IsVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
