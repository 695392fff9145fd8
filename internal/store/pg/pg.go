// Package pg implements the auth store on PostgreSQL through database/sql
// and the pgx stdlib driver. Session consumption is a single conditional
// UPDATE, so the at-most-once guarantee rides on the database rather than
// on application locking.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"krapi.org/internal/auth"
)

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) AdminUsers() auth.AdminUserStore { return (*adminUsers)(s) }
func (s *Store) Projects() auth.ProjectStore     { return (*projects)(s) }
func (s *Store) Sessions() auth.SessionStore     { return (*sessions)(s) }
func (s *Store) APIKeys() auth.APIKeyStore       { return (*apiKeys)(s) }
func (s *Store) LoginLogs() auth.LoginLogStore   { return (*loginLogs)(s) }

func marshalPerms(p auth.PermissionSet) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func unmarshalPerms(raw []byte) (auth.PermissionSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p auth.PermissionSet
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func unmarshalStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

type adminUsers Store

const adminUserColumns = `id, username, email, password_hash, role, access_level, permissions, project_ids, active, created_at, updated_at`

func (s *adminUsers) Create(ctx context.Context, u *auth.AdminUser) error {
	perms, err := marshalPerms(u.Permissions)
	if err != nil {
		return err
	}
	projects, err := marshalStrings(u.ProjectIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into admin_users(`+adminUserColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Role.String(), u.AccessLevel.String(),
		perms, projects, u.Active, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s *adminUsers) Find(ctx context.Context, id string) (*auth.AdminUser, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select `+adminUserColumns+` from admin_users where id=$1`, id))
}

func (s *adminUsers) FindByUsername(ctx context.Context, username string) (*auth.AdminUser, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select `+adminUserColumns+` from admin_users where username=$1`, username))
}

func (s *adminUsers) scanOne(row *sql.Row) (*auth.AdminUser, error) {
	var (
		u        auth.AdminUser
		role     string
		level    string
		perms    []byte
		projects []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &level,
		&perms, &projects, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.Role, err = auth.ParseRole(role); err != nil {
		return nil, err
	}
	if u.AccessLevel, err = auth.ParseAccessLevel(level); err != nil {
		return nil, err
	}
	if u.Permissions, err = unmarshalPerms(perms); err != nil {
		return nil, err
	}
	if u.ProjectIDs, err = unmarshalStrings(projects); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *adminUsers) List(ctx context.Context) ([]*auth.AdminUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+adminUserColumns+` from admin_users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.AdminUser
	for rows.Next() {
		var (
			u        auth.AdminUser
			role     string
			level    string
			perms    []byte
			projects []byte
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &level,
			&perms, &projects, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		if u.Role, err = auth.ParseRole(role); err != nil {
			return nil, err
		}
		if u.AccessLevel, err = auth.ParseAccessLevel(level); err != nil {
			return nil, err
		}
		if u.Permissions, err = unmarshalPerms(perms); err != nil {
			return nil, err
		}
		if u.ProjectIDs, err = unmarshalStrings(projects); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *adminUsers) Update(ctx context.Context, u *auth.AdminUser) error {
	perms, err := marshalPerms(u.Permissions)
	if err != nil {
		return err
	}
	projects, err := marshalStrings(u.ProjectIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update admin_users
		set email=$2, password_hash=$3, role=$4, access_level=$5,
		    permissions=$6, project_ids=$7, active=$8, updated_at=$9
		where id=$1
	`, u.ID, u.Email, u.PasswordHash, u.Role.String(), u.AccessLevel.String(),
		perms, projects, u.Active, u.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *adminUsers) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update admin_users set active=$2, updated_at=now() where id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type projects Store

func (s *projects) Create(ctx context.Context, p *auth.Project) error {
	_, err := s.db.ExecContext(ctx, `
		insert into projects(id, name, api_keys_enabled, created_at)
		values ($1,$2,$3,$4)
	`, p.ID, p.Name, p.APIKeysEnabled, p.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s *projects) Find(ctx context.Context, id string) (*auth.Project, error) {
	var p auth.Project
	err := s.db.QueryRowContext(ctx, `
		select id, name, api_keys_enabled, created_at from projects where id=$1
	`, id).Scan(&p.ID, &p.Name, &p.APIKeysEnabled, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *projects) List(ctx context.Context) ([]*auth.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, api_keys_enabled, created_at from projects order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Project
	for rows.Next() {
		var p auth.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.APIKeysEnabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type sessions Store

const sessionColumns = `id, token_hash, owner_kind, owner_id, project_id, permissions, bearer_id, issued_at, expires_at, consumed_at, terminated_at`

func (s *sessions) Create(ctx context.Context, sess *auth.Session) error {
	perms, err := marshalPerms(sess.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into sessions(id, token_hash, owner_kind, owner_id, project_id, permissions, issued_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.TokenHash, string(sess.OwnerKind), sess.OwnerID,
		nullString(sess.ProjectID), perms, sess.IssuedAt, sess.ExpiresAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func scanSession(scan func(dest ...any) error) (*auth.Session, error) {
	var (
		sess       auth.Session
		kind       string
		projectID  sql.NullString
		perms      []byte
		bearerID   sql.NullString
		consumed   sql.NullTime
		terminated sql.NullTime
	)
	err := scan(&sess.ID, &sess.TokenHash, &kind, &sess.OwnerID, &projectID,
		&perms, &bearerID, &sess.IssuedAt, &sess.ExpiresAt, &consumed, &terminated)
	if err != nil {
		return nil, err
	}
	sess.OwnerKind = auth.OwnerKind(kind)
	sess.ProjectID = projectID.String
	sess.BearerID = bearerID.String
	if sess.Permissions, err = unmarshalPerms(perms); err != nil {
		return nil, err
	}
	if consumed.Valid {
		t := consumed.Time
		sess.ConsumedAt = &t
	}
	if terminated.Valid {
		t := terminated.Time
		sess.TerminatedAt = &t
	}
	return &sess, nil
}

func (s *sessions) Find(ctx context.Context, id string) (*auth.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return sess, err
}

// Consume is the single-use gate: only an unconsumed, unterminated, live
// row matches the predicate, and RETURNING hands back the winner's state.
// Concurrent callers race on the row lock; all but one see zero rows.
func (s *sessions) Consume(ctx context.Context, tokenHash string, now time.Time, bearerID string) (*auth.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		update sessions
		set consumed_at=$2, bearer_id=$3
		where token_hash=$1
		  and consumed_at is null
		  and terminated_at is null
		  and expires_at > $2
		returning `+sessionColumns+`
	`, tokenHash, now, bearerID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionInvalid
	}
	return sess, err
}

func (s *sessions) ListActive(ctx context.Context, now time.Time) ([]*auth.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+` from sessions
		where consumed_at is null and terminated_at is null and expires_at > $1
		order by issued_at desc
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sessions) Terminate(ctx context.Context, id string, now time.Time) (*auth.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		update sessions
		set terminated_at = coalesce(terminated_at, $2)
		where id=$1
		returning `+sessionColumns+`
	`, id, now).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return sess, err
}

func (s *sessions) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type apiKeys Store

const apiKeyColumns = `id, project_id, name, key_hash, key_prefix, permissions, rate_limit, active, created_at, expires_at, usage_count, last_used_at`

func (s *apiKeys) Create(ctx context.Context, k *auth.APIKey) error {
	perms, err := marshalPerms(k.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_keys(id, project_id, name, key_hash, key_prefix, permissions, rate_limit, active, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, k.ID, k.ProjectID, k.Name, k.KeyHash, k.KeyPrefix, perms, k.RateLimit,
		k.Active, k.CreatedAt, nullTime(k.ExpiresAt))
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func scanAPIKey(scan func(dest ...any) error) (*auth.APIKey, error) {
	var (
		k        auth.APIKey
		perms    []byte
		expires  sql.NullTime
		lastUsed sql.NullTime
	)
	err := scan(&k.ID, &k.ProjectID, &k.Name, &k.KeyHash, &k.KeyPrefix, &perms,
		&k.RateLimit, &k.Active, &k.CreatedAt, &expires, &k.UsageCount, &lastUsed)
	if err != nil {
		return nil, err
	}
	if k.Permissions, err = unmarshalPerms(perms); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		k.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

func (s *apiKeys) Find(ctx context.Context, id string) (*auth.APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where id=$1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return k, err
}

func (s *apiKeys) FindByHash(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where key_hash=$1`, keyHash).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return k, err
}

func (s *apiKeys) List(ctx context.Context, projectID string) ([]*auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+apiKeyColumns+` from api_keys where project_id=$1 order by id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *apiKeys) Update(ctx context.Context, k *auth.APIKey) error {
	perms, err := marshalPerms(k.Permissions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update api_keys
		set name=$2, permissions=$3, rate_limit=$4, active=$5, expires_at=$6
		where id=$1
	`, k.ID, k.Name, perms, k.RateLimit, k.Active, nullTime(k.ExpiresAt))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *apiKeys) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update api_keys set active=$2 where id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *apiKeys) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from api_keys where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *apiKeys) Touch(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys set usage_count = usage_count + 1, last_used_at=$2 where id=$1
	`, id, now)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type loginLogs Store

func (s *loginLogs) Append(ctx context.Context, e *auth.LoginLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into login_logs(id, subject, ip_address, user_agent, success, failure_reason, location, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.Subject, e.IPAddress, e.UserAgent, e.Success,
		nullString(e.FailureReason), nullString(e.Location), e.CreatedAt)
	return err
}

func (s *loginLogs) List(ctx context.Context, limit, offset int) ([]*auth.LoginLogEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from login_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, subject, ip_address, user_agent, success, failure_reason, location, created_at
		from login_logs
		order by created_at desc, id desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*auth.LoginLogEntry
	for rows.Next() {
		var (
			e        auth.LoginLogEntry
			reason   sql.NullString
			location sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Subject, &e.IPAddress, &e.UserAgent,
			&e.Success, &reason, &location, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.FailureReason = reason.String
		e.Location = location.String
		out = append(out, &e)
	}
	return out, total, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// isUniqueViolation matches pgx's SQLSTATE 23505 without importing pgconn
// into every call site.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
