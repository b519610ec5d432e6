package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable (user_id, topic) record store. Upserts for the same
// user are serialized through a per-user mutex; different users proceed
// independently. All public errors wrap ErrStorageUnavailable.
type Store struct {
	db *sql.DB

	similarityThreshold float64
	maxSummaryLen       int

	userMu sync.Mutex
	users  map[string]*sync.Mutex
}

type StoreOptions struct {
	// SimilarityThreshold below which topics are considered distinct.
	// Zero means the default of 0.5.
	SimilarityThreshold float64
	// MaxSummaryLen bounds summary_text; merged summaries beyond it are
	// recompressed sentence by sentence. Zero means 1200.
	MaxSummaryLen int
}

func NewStore(dbPath string, opts StoreOptions) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, storageErr("create db dir", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}

	s := &Store{
		db:                  db,
		similarityThreshold: opts.SimilarityThreshold,
		maxSummaryLen:       opts.MaxSummaryLen,
		users:               make(map[string]*sync.Mutex),
	}
	if s.similarityThreshold <= 0 || s.similarityThreshold > 1 {
		s.similarityThreshold = 0.5
	}
	if s.maxSummaryLen <= 0 {
		s.maxSummaryLen = 1200
	}

	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return storageErr(fmt.Sprintf("sqlite pragma %q", p), err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			topic_norm TEXT NOT NULL,
			summary TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 0.5,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			UNIQUE(user_id, topic_norm)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id, archived, updated_at)`,
		`CREATE TABLE IF NOT EXISTS record_sources (
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			UNIQUE(record_id, message_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// userLock returns the mutex serializing upserts for a single user.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	mu, ok := s.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.users[userID] = mu
	}
	return mu
}

// Lookup returns the user's active records whose topic is similar to
// topicHint, ordered by similarity desc, updated_at desc, id asc. An empty
// hint returns all active records for the user, most recently updated first.
func (s *Store) Lookup(ctx context.Context, userID, topicHint string) ([]Record, error) {
	records, err := s.userRecords(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	hint := strings.TrimSpace(topicHint)
	if hint == "" {
		sort.SliceStable(records, func(i, j int) bool {
			if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
				return records[i].UpdatedAt.After(records[j].UpdatedAt)
			}
			return records[i].ID < records[j].ID
		})
		return records, nil
	}

	type scored struct {
		rec Record
		sim float64
	}
	matches := make([]scored, 0, len(records))
	for _, r := range records {
		sim := HintSimilarity(hint, r.Topic)
		if sim >= s.similarityThreshold {
			matches = append(matches, scored{rec: r, sim: sim})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].sim != matches[j].sim {
			return matches[i].sim > matches[j].sim
		}
		if !matches[i].rec.UpdatedAt.Equal(matches[j].rec.UpdatedAt) {
			return matches[i].rec.UpdatedAt.After(matches[j].rec.UpdatedAt)
		}
		return matches[i].rec.ID < matches[j].rec.ID
	})

	out := make([]Record, len(matches))
	for i, m := range matches {
		out[i] = m.rec
	}
	return out, nil
}

// Upsert merges a distilled summary into the user's records. A topic similar
// to an existing record merges into it; multiple candidates merge into the
// most recently updated one and the ambiguity is logged. The write is durable
// before Upsert returns.
func (s *Store) Upsert(ctx context.Context, userID, topic, summary string, weight float64, sourceIDs []string) error {
	userID = strings.TrimSpace(userID)
	topic = strings.TrimSpace(topic)
	summary = strings.TrimSpace(summary)
	if userID == "" || topic == "" || summary == "" {
		return fmt.Errorf("upsert: user, topic and summary are required")
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	// Archived records stay merge candidates: a revived topic folds into the
	// old record instead of colliding with its (user_id, topic_norm) row.
	records, err := s.userRecords(ctx, userID, true)
	if err != nil {
		return err
	}

	var target *Record
	matched := 0
	for i := range records {
		if TopicSimilarity(topic, records[i].Topic) < s.similarityThreshold {
			continue
		}
		matched++
		if target == nil || records[i].UpdatedAt.After(target.UpdatedAt) {
			target = &records[i]
		}
	}
	if matched > 1 {
		log.Printf("[memory] ambiguous merge: user=%s topic=%q matched %d records, merging into id=%d (most recent)",
			userID, topic, matched, target.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var recordID int64
	if target == nil {
		recordID, err = s.insertRecord(ctx, tx, userID, topic, summary, weight, now)
	} else {
		recordID, err = s.mergeRecord(ctx, tx, target, summary, weight, now)
	}
	if err != nil {
		return err
	}

	for _, msgID := range sourceIDs {
		msgID = strings.TrimSpace(msgID)
		if msgID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO record_sources (record_id, message_id) VALUES (?, ?)`,
			recordID, msgID); err != nil {
			return storageErr("link source", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert", err)
	}
	return nil
}

func (s *Store) insertRecord(ctx context.Context, tx *sql.Tx, userID, topic, summary string, weight float64, now time.Time) (int64, error) {
	summary = s.compressSummary(summary)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO records (user_id, topic, topic_norm, summary, weight, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, topic, NormalizeTopic(topic), summary, clampWeight(weight),
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return 0, storageErr("insert record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert record id", err)
	}
	return id, nil
}

func (s *Store) mergeRecord(ctx context.Context, tx *sql.Tx, target *Record, summary string, weight float64, now time.Time) (int64, error) {
	merged := target.Summary
	// Identical re-upserts must not grow the summary.
	if !strings.Contains(target.Summary, summary) {
		merged = s.compressSummary(target.Summary + " " + summary)
	}

	newWeight := target.Weight
	if w := clampWeight(weight); w > newWeight {
		newWeight = w
	}

	// updated_at strictly increases even against a same-instant clock read.
	updatedAt := now.UnixNano()
	if updatedAt <= target.UpdatedAt.UnixNano() {
		updatedAt = target.UpdatedAt.UnixNano() + 1
	}

	// A merge into an archived record un-archives it.
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET summary = ?, weight = ?, updated_at = ?, archived = 0 WHERE id = ?`,
		merged, newWeight, updatedAt, target.ID); err != nil {
		return 0, storageErr("merge record", err)
	}
	return target.ID, nil
}

// compressSummary bounds text to maxSummaryLen by dropping the oldest
// sentences whole. A single oversized sentence is kept intact rather than
// cut mid-sentence.
func (s *Store) compressSummary(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= s.maxSummaryLen {
		return text
	}

	sentences := splitSentences(text)
	for len(sentences) > 1 {
		sentences = sentences[1:]
		joined := strings.Join(sentences, " ")
		if len(joined) <= s.maxSummaryLen {
			return joined
		}
	}
	return sentences[0]
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Consume the run of terminators ("...", "?!").
			j := i
			for j+1 < len(text) && (text[j+1] == '.' || text[j+1] == '!' || text[j+1] == '?') {
				j++
			}
			sent := strings.TrimSpace(text[start : j+1])
			if sent != "" {
				out = append(out, sent)
			}
			start = j + 1
			i = j
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(text))
	}
	return out
}

func clampWeight(w float64) float64 {
	if w <= 0 {
		return 0.5
	}
	if w > 1 {
		return 1
	}
	return w
}

func (s *Store) userRecords(ctx context.Context, userID string, includeArchived bool) ([]Record, error) {
	query := `SELECT id, user_id, topic, topic_norm, summary, weight, created_at, updated_at, archived
		FROM records WHERE user_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storageErr("query records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan records", err)
	}

	for i := range records {
		ids, err := s.sourceIDs(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].SourceIDs = ids
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var createdNs, updatedNs int64
	var archived int
	if err := rows.Scan(&r.ID, &r.UserID, &r.Topic, &r.TopicNorm, &r.Summary,
		&r.Weight, &createdNs, &updatedNs, &archived); err != nil {
		return Record{}, storageErr("scan record", err)
	}
	r.CreatedAt = time.Unix(0, createdNs)
	r.UpdatedAt = time.Unix(0, updatedNs)
	r.Archived = archived != 0
	return r, nil
}

func (s *Store) sourceIDs(ctx context.Context, recordID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM record_sources WHERE record_id = ? ORDER BY message_id`, recordID)
	if err != nil {
		return nil, storageErr("query sources", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan source", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan sources", err)
	}
	return ids, nil
}

// SetSummary replaces a record's summary wholesale. Used by maintenance
// recompression; serialized against the user's upserts and bumps updated_at
// like any other write.
func (s *Store) SetSummary(ctx context.Context, recordID int64, summary string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("set summary: empty summary")
	}

	var userID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM records WHERE id = ?`, recordID).Scan(&userID); err != nil {
		return storageErr("set summary lookup", err)
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	var prevNs int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM records WHERE id = ?`, recordID).Scan(&prevNs); err != nil {
		return storageErr("set summary lookup", err)
	}
	updatedAt := time.Now().UnixNano()
	if updatedAt <= prevNs {
		updatedAt = prevNs + 1
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE records SET summary = ?, updated_at = ? WHERE id = ?`,
		s.compressSummary(summary), updatedAt, recordID); err != nil {
		return storageErr("set summary", err)
	}
	return nil
}

// ClearUser deletes every record for the user. Source links go with them.
func (s *Store) ClearUser(ctx context.Context, userID string) (int64, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE user_id = ?`, userID)
	if err != nil {
		return 0, storageErr("clear user", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// OversizedRecords returns active records whose summary exceeds the length
// bound, candidates for LLM recompression.
func (s *Store) OversizedRecords(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, topic, topic_norm, summary, weight, created_at, updated_at, archived
		 FROM records WHERE archived = 0 AND length(summary) > ?
		 ORDER BY length(summary) DESC LIMIT ?`,
		s.maxSummaryLen, limit)
	if err != nil {
		return nil, storageErr("query oversized", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan oversized", err)
	}
	return records, nil
}

// SweepStale archives records older than maxAge with weight below minWeight.
// Archived records drop out of Lookup but stay on disk.
func (s *Store) SweepStale(ctx context.Context, maxAge time.Duration, minWeight float64) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET archived = 1 WHERE archived = 0 AND updated_at < ? AND weight < ?`,
		cutoff, minWeight)
	if err != nil {
		return 0, storageErr("sweep stale", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats reports store-wide counts for status output.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(DISTINCT user_id) FROM records),
		(SELECT COUNT(*) FROM records WHERE archived = 0),
		(SELECT COUNT(*) FROM records WHERE archived = 1),
		(SELECT COUNT(*) FROM record_sources)`)
	if err := row.Scan(&st.Users, &st.ActiveRecords, &st.ArchivedRecords, &st.SourceLinks); err != nil {
		return Stats{}, storageErr("query stats", err)
	}
	return st, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
