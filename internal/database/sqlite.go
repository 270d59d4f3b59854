package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jwestbrook/imageflow/internal/model"
	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteDB implements Database.
var _ Database = (*SQLiteDB)(nil)

// SQLiteDB implements Database backed by SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) an SQLite database at dsn and runs
// migrations. For in-memory use pass "file::memory:?cache=shared".
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	} else if !strings.Contains(dsn, "_journal_mode") {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite serialises writes; a single connection avoids spurious
	// SQLITE_BUSY under the claim/complete write traffic of the workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

const imageColumns = `id, owner_id, file_name, content_type, size_bytes,
	original_key, original_url, width, height, processing_status,
	processed_key, processed_url, processed_width, processed_height, uploaded_at`

func (s *SQLiteDB) CreateImage(img *model.Image, quota int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, "CreateImage")

	// Count-then-insert inside the transaction so two concurrent uploads
	// cannot both squeeze into the last quota slot.
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM images WHERE owner_id = ?`, img.OwnerID).Scan(&count); err != nil {
		return fmt.Errorf("count images: %w", err)
	}
	if quota > 0 && count >= quota {
		return ErrQuotaExceeded
	}

	_, err = tx.Exec(`
		INSERT INTO images (`+imageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.OwnerID, img.FileName, img.ContentType, img.SizeBytes,
		img.OriginalKey, img.OriginalURL, img.Width, img.Height, string(img.ProcessingStatus),
		img.ProcessedKey, img.ProcessedURL, img.ProcessedWidth, img.ProcessedHeight,
		img.Uploaded.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetImage(ownerID, imageID string) (*model.Image, error) {
	row := s.db.QueryRow(`
		SELECT `+imageColumns+` FROM images WHERE owner_id = ? AND id = ?`,
		ownerID, imageID,
	)
	return scanImage(row)
}

func (s *SQLiteDB) GetImageByID(imageID string) (*model.Image, error) {
	row := s.db.QueryRow(`SELECT `+imageColumns+` FROM images WHERE id = ?`, imageID)
	return scanImage(row)
}

func (s *SQLiteDB) ListImages(ownerID string) ([]*model.Image, error) {
	rows, err := s.db.Query(`
		SELECT `+imageColumns+` FROM images WHERE owner_id = ?
		ORDER BY uploaded_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

func (s *SQLiteDB) CountImages(ownerID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE owner_id = ?`, ownerID).Scan(&count)
	return count, err
}

func (s *SQLiteDB) DeleteImage(ownerID, imageID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, "DeleteImage")

	res, err := tx.Exec(`DELETE FROM images WHERE owner_id = ? AND id = ?`, ownerID, imageID)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	// Deletion is authoritative: the job row goes with the image, so a
	// worker that has not claimed it yet finds nothing to claim.
	if _, err := tx.Exec(`DELETE FROM jobs WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

func (s *SQLiteDB) CreateJob(job *model.Job) error {
	reqJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, "CreateJob")

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.Exec(`
		INSERT INTO jobs (image_id, request, status, attempts, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, ?, ?)`,
		job.ImageID, string(reqJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE images SET processing_status = ? WHERE id = ? AND processing_status = ?`,
		string(model.StatusPending), job.ImageID, string(model.StatusNone),
	)
	if err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteDB) ClaimJob(imageID string) (*model.Job, bool, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'running', updated_at = ?
		WHERE image_id = ? AND status = 'pending'`,
		time.Now().UTC().Format(time.RFC3339Nano), imageID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	var reqJSON string
	job := &model.Job{ImageID: imageID}
	err = s.db.QueryRow(`SELECT request, attempts FROM jobs WHERE image_id = ?`, imageID).
		Scan(&reqJSON, &job.Attempts)
	if err != nil {
		return nil, false, fmt.Errorf("load claimed job: %w", err)
	}
	if err := json.Unmarshal([]byte(reqJSON), &job.Request); err != nil {
		return nil, false, fmt.Errorf("unmarshal request: %w", err)
	}
	return job, true, nil
}

func (s *SQLiteDB) ReleaseJob(imageID string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'pending', attempts = attempts + 1, updated_at = ?
		WHERE image_id = ? AND status = 'running'`,
		time.Now().UTC().Format(time.RFC3339Nano), imageID,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

func (s *SQLiteDB) CompleteImage(imageID, processedKey, processedURL string, width, height int) (bool, error) {
	return s.finishJob(imageID, func(tx *sql.Tx) (sql.Result, error) {
		return tx.Exec(`
			UPDATE images SET processing_status = ?, processed_key = ?, processed_url = ?,
				processed_width = ?, processed_height = ?
			WHERE id = ? AND processing_status = ?`,
			string(model.StatusCompleted), processedKey, processedURL,
			width, height, imageID, string(model.StatusPending),
		)
	})
}

func (s *SQLiteDB) FailImage(imageID string) (bool, error) {
	return s.finishJob(imageID, func(tx *sql.Tx) (sql.Result, error) {
		return tx.Exec(`
			UPDATE images SET processing_status = ? WHERE id = ? AND processing_status = ?`,
			string(model.StatusFailed), imageID, string(model.StatusPending),
		)
	})
}

// finishJob applies a terminal status update conditional on the image
// still being pending, and closes out the job row when it lands.
func (s *SQLiteDB) finishJob(imageID string, update func(*sql.Tx) (sql.Result, error)) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, "finishJob")

	res, err := update(tx)
	if err != nil {
		return false, fmt.Errorf("update image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Image deleted mid-flight, or the status already left pending.
		return false, tx.Commit()
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = 'done', updated_at = ? WHERE image_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), imageID,
	); err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return true, tx.Commit()
}

func (s *SQLiteDB) RecoverJobs() ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, "RecoverJobs")

	rows, err := tx.Query(`SELECT image_id FROM jobs WHERE status IN ('pending', 'running')`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("reset running jobs: %w", err)
	}
	return ids, tx.Commit()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanImage(row scannable) (*model.Image, error) {
	img := &model.Image{}
	var status, uploadedStr string

	err := row.Scan(&img.ID, &img.OwnerID, &img.FileName, &img.ContentType, &img.SizeBytes,
		&img.OriginalKey, &img.OriginalURL, &img.Width, &img.Height, &status,
		&img.ProcessedKey, &img.ProcessedURL, &img.ProcessedWidth, &img.ProcessedHeight,
		&uploadedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan image: %w", err)
	}

	img.ProcessingStatus = model.ProcessingStatus(status)
	img.Uploaded, _ = time.Parse(time.RFC3339Nano, uploadedStr)
	return img, nil
}

func scanImages(rows *sql.Rows) ([]*model.Image, error) {
	var images []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func rollback(tx *sql.Tx, op string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("%s: rollback failed: %v", op, err)
	}
}
