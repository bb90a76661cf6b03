package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Opts configures Open.
type Opts struct {
	Logger *zap.Logger
}

type Option func(*Opts)

func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	log      *zap.Logger
}

// Open returns a Store for the driver. The memory driver ignores dsn.
func Open(driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, "sqlite3":
		return NewSQLite(dsn, opts...)
	case DriverPostgres:
		return NewPostgres(dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// NewSQLite opens a SQLite database file, creating its directory when needed.
// ":memory:" gives a private in-process database.
func NewSQLite(dsn string, opts ...Option) (*SQLStore, error) {
	cfg := applyOpts(opts)
	if dsn == "" {
		return nil, errors.New("database DSN not set")
	}
	memory := strings.Contains(dsn, ":memory:")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// every new connection to :memory: is a new empty database
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, log: cfg.Logger}
	if err := s.migrate(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("sqlite store ready", zap.String("dsn", dsn))
	return s, nil
}

// sqliteDSN turns on foreign keys for every pooled connection, not just the first one.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func NewPostgres(dsn string, opts ...Option) (*SQLStore, error) {
	cfg := applyOpts(opts)
	if dsn == "" {
		return nil, errors.New("database DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &SQLStore{db: db, postgres: true, log: cfg.Logger}
	if err := s.migrate(postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("postgres store ready")
	return s, nil
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

func (s *SQLStore) migrate(schema string) error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) UpsertUser(ctx context.Context, u User) error {
	now := dbTime(time.Now())
	_, err := s.exec(ctx, `
		INSERT INTO users (id, username, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, now, now)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.queryRow(ctx, `SELECT id, username, first_name, last_name, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (s *SQLStore) InsertPlaces(ctx context.Context, places []Place) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`INSERT INTO places (name, description, address, district, category, latitude, longitude, image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, p := range places {
		if _, err := tx.ExecContext(ctx, q, p.Name, p.Description, p.Address, p.District, p.Category, p.Latitude, p.Longitude, p.Image); err != nil {
			return fmt.Errorf("insert place %q: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit places: %w", err)
	}
	s.log.Info("places inserted", zap.Int("count", len(places)))
	return nil
}

const placeColumns = `p.id, p.name, p.description, p.address, p.district, p.category, p.latitude, p.longitude, p.image`

type scanner interface {
	Scan(dest ...any) error
}

func scanPlace(sc scanner, extra ...any) (Place, error) {
	var p Place
	dest := append([]any{&p.ID, &p.Name, &p.Description, &p.Address, &p.District, &p.Category, &p.Latitude, &p.Longitude, &p.Image}, extra...)
	err := sc.Scan(dest...)
	return p, err
}

func (s *SQLStore) GetPlace(ctx context.Context, id int64) (Place, error) {
	p, err := scanPlace(s.queryRow(ctx, `SELECT `+placeColumns+` FROM places p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Place{}, ErrNotFound
	}
	if err != nil {
		return Place{}, fmt.Errorf("get place %d: %w", id, err)
	}
	return p, nil
}

func placeWhere(f PlaceFilter) (string, []any) {
	var conds []string
	var args []any
	if f.District != "" {
		conds = append(conds, "p.district = ?")
		args = append(args, f.District)
	}
	if f.Category != "" {
		conds = append(conds, "p.category = ?")
		args = append(args, f.Category)
	}
	if f.WithImage {
		conds = append(conds, "p.image <> ''")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLStore) ListPlaces(ctx context.Context, f PlaceFilter, offset, limit int) ([]Place, error) {
	where, args := placeWhere(f)
	q := `SELECT ` + placeColumns + ` FROM places p` + where + ` ORDER BY p.name, p.id`
	if limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()
	var out []Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountPlaces(ctx context.Context, f PlaceFilter) (int, error) {
	where, args := placeWhere(f)
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM places p`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count places: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Districts(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "district")
}

func (s *SQLStore) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "category")
}

func (s *SQLStore) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT `+column+` FROM places WHERE `+column+` <> '' ORDER BY `+column)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", column, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// placeExists maps a missing place to ErrNotFound before a write hits the foreign key.
func placeExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, rebind func(string) string, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, rebind(`SELECT 1 FROM places WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) AddVisit(ctx context.Context, userID, placeID int64, at time.Time) (bool, error) {
	if err := placeExists(ctx, s.db, s.rebind, placeID); err != nil {
		return false, fmt.Errorf("add visit: %w", err)
	}
	res, err := s.exec(ctx, `INSERT INTO visits (user_id, place_id, visited_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		userID, placeID, dbTime(at))
	if err != nil {
		return false, fmt.Errorf("add visit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add visit: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) HasVisit(ctx context.Context, userID, placeID int64) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM visits WHERE user_id = ? AND place_id = ?`, userID, placeID).Scan(&n); err != nil {
		return false, fmt.Errorf("has visit: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListVisits(ctx context.Context, userID int64) ([]Visit, error) {
	rows, err := s.query(ctx, `
		SELECT `+placeColumns+`, v.visited_at
		FROM visits v JOIN places p ON p.id = v.place_id
		WHERE v.user_id = ?
		ORDER BY v.visited_at DESC, p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()
	var out []Visit
	for rows.Next() {
		v := Visit{UserID: userID}
		p, err := scanPlace(rows, &v.VisitedAt)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		v.Place, v.PlaceID = p, p.ID
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) ReplaceReminder(ctx context.Context, r Reminder) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := placeExists(ctx, tx, s.rebind, r.PlaceID); err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM reminders WHERE user_id = ? AND place_id = ? AND completed = ?`),
		r.UserID, r.PlaceID, false); err != nil {
		return 0, fmt.Errorf("drop old reminders: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`INSERT INTO reminders (user_id, place_id, remind_at, completed, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		r.UserID, r.PlaceID, dbTime(r.RemindAt), false, dbTime(created)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reminder: %w", err)
	}
	return id, nil
}

const reminderSelect = `SELECT ` + placeColumns + `, r.id, r.user_id, r.remind_at, r.completed, r.created_at
	FROM reminders r JOIN places p ON p.id = r.place_id`

func scanReminder(sc scanner) (Reminder, error) {
	var r Reminder
	p, err := scanPlace(sc, &r.ID, &r.UserID, &r.RemindAt, &r.Completed, &r.CreatedAt)
	if err != nil {
		return Reminder{}, err
	}
	r.Place, r.PlaceID = p, p.ID
	return r, nil
}

func (s *SQLStore) reminders(ctx context.Context, q string, args ...any) ([]Reminder, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) ActiveReminder(ctx context.Context, userID, placeID int64, now time.Time) (Reminder, error) {
	rs, err := s.reminders(ctx, reminderSelect+`
		WHERE r.user_id = ? AND r.place_id = ? AND r.completed = ? AND r.remind_at > ?
		ORDER BY r.remind_at LIMIT 1`, userID, placeID, false, dbTime(now))
	if err != nil {
		return Reminder{}, err
	}
	if len(rs) == 0 {
		return Reminder{}, ErrNotFound
	}
	return rs[0], nil
}

func (s *SQLStore) ListActiveReminders(ctx context.Context, userID int64, now time.Time) ([]Reminder, error) {
	return s.reminders(ctx, reminderSelect+`
		WHERE r.user_id = ? AND r.completed = ? AND r.remind_at > ?
		ORDER BY r.remind_at, r.id`, userID, false, dbTime(now))
}

func (s *SQLStore) CountReminders(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM reminders WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reminders: %w", err)
	}
	return n, nil
}

func (s *SQLStore) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	return s.reminders(ctx, reminderSelect+`
		WHERE r.completed = ? AND r.remind_at <= ?
		ORDER BY r.remind_at, r.id`, false, dbTime(now))
}

func (s *SQLStore) CompleteReminder(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `UPDATE reminders SET completed = ? WHERE id = ?`, true, id); err != nil {
		return fmt.Errorf("complete reminder %d: %w", id, err)
	}
	return nil
}

func (s *SQLStore) AddReview(ctx context.Context, r Review) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var text sql.NullString
	if r.Text != "" {
		text = sql.NullString{String: r.Text, Valid: true}
	}
	if _, err := s.exec(ctx, `INSERT INTO reviews (user_id, place_id, rating, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.PlaceID, r.Rating, text, dbTime(created)); err != nil {
		return fmt.Errorf("add review: %w", err)
	}
	return nil
}

func (s *SQLStore) ListReviews(ctx context.Context, placeID int64, limit int) ([]Review, error) {
	q := `SELECT r.id, r.user_id, r.place_id, r.rating, r.text, r.created_at,
			COALESCE(NULLIF(u.first_name, ''), NULLIF(u.username, ''), '')
		FROM reviews r LEFT JOIN users u ON u.id = r.user_id
		WHERE r.place_id = ?
		ORDER BY r.created_at DESC, r.id DESC`
	args := []any{placeID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	var out []Review
	for rows.Next() {
		var r Review
		var text sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.PlaceID, &r.Rating, &text, &r.CreatedAt, &r.Author); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Text = text.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) PlaceRating(ctx context.Context, placeID int64) (Rating, error) {
	var r Rating
	if err := s.queryRow(ctx, `SELECT COUNT(*), COALESCE(AVG(rating), 0) FROM reviews WHERE place_id = ?`, placeID).
		Scan(&r.Count, &r.Average); err != nil {
		return Rating{}, fmt.Errorf("place rating: %w", err)
	}
	return r, nil
}

func (s *SQLStore) UpsertAchievements(ctx context.Context, rules []Achievement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`INSERT INTO achievements (code, name, description, icon, kind, threshold, scope, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			icon = excluded.icon,
			kind = excluded.kind,
			threshold = excluded.threshold,
			scope = excluded.scope,
			position = excluded.position`)
	for i, a := range rules {
		if _, err := tx.ExecContext(ctx, q, a.Code, a.Name, a.Description, a.Icon, string(a.Kind), a.Threshold, a.Scope, i); err != nil {
			return fmt.Errorf("upsert achievement %s: %w", a.Code, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListAchievements(ctx context.Context) ([]Achievement, error) {
	rows, err := s.query(ctx, `SELECT code, name, description, icon, kind, threshold, scope FROM achievements ORDER BY position, code`)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()
	var out []Achievement
	for rows.Next() {
		var a Achievement
		var kind string
		if err := rows.Scan(&a.Code, &a.Name, &a.Description, &a.Icon, &kind, &a.Threshold, &a.Scope); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.Kind = AchievementKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListUnlocked(ctx context.Context, userID int64) ([]UserAchievement, error) {
	rows, err := s.query(ctx, `SELECT user_id, code, unlocked_at FROM user_achievements WHERE user_id = ? ORDER BY unlocked_at, code`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocked: %w", err)
	}
	defer rows.Close()
	var out []UserAchievement
	for rows.Next() {
		var ua UserAchievement
		if err := rows.Scan(&ua.UserID, &ua.Code, &ua.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan unlocked: %w", err)
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

func (s *SQLStore) Unlock(ctx context.Context, ua UserAchievement) (bool, error) {
	at := ua.UnlockedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.exec(ctx, `INSERT INTO user_achievements (user_id, code, unlocked_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		ua.UserID, ua.Code, dbTime(at))
	if err != nil {
		return false, fmt.Errorf("unlock %s: %w", ua.Code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock %s: %w", ua.Code, err)
	}
	return n > 0, nil
}

func (s *SQLStore) AddQuizResult(ctx context.Context, r QuizResult) error {
	at := r.CompletedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.exec(ctx, `INSERT INTO quiz_results (user_id, total, correct, completed_at) VALUES (?, ?, ?, ?)`,
		r.UserID, r.Total, r.Correct, dbTime(at)); err != nil {
		return fmt.Errorf("add quiz result: %w", err)
	}
	return nil
}

func (s *SQLStore) ListQuizResults(ctx context.Context, userID int64) ([]QuizResult, error) {
	rows, err := s.query(ctx, `SELECT id, user_id, total, correct, completed_at FROM quiz_results WHERE user_id = ? ORDER BY completed_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list quiz results: %w", err)
	}
	defer rows.Close()
	var out []QuizResult
	for rows.Next() {
		var r QuizResult
		if err := rows.Scan(&r.ID, &r.UserID, &r.Total, &r.Correct, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan quiz result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
