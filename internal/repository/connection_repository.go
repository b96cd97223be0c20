package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

// ConnectionRepository handles persistence of peer connections.
type ConnectionRepository struct {
	db *sqlx.DB
}

// NewConnectionRepository constructs the repository.
func NewConnectionRepository(db *sqlx.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Exists reports whether a directed (student, connected) edge already exists.
func (r *ConnectionRepository) Exists(ctx context.Context, studentID, connectedStudentID string) (bool, error) {
	const query = `SELECT 1 FROM student_connections WHERE student_id = $1 AND connected_student_id = $2 LIMIT 1`
	var one int
	if err := r.db.GetContext(ctx, &one, query, studentID, connectedStudentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check connection: %w", err)
	}
	return true, nil
}

// CreatePairTx writes both directions of an introduction in one transaction.
func (r *ConnectionRepository) CreatePairTx(ctx context.Context, tx *sqlx.Tx, forward, mirror *models.StudentConnection) error {
	now := time.Now().UTC()
	const query = `INSERT INTO student_connections (id, student_id, connected_student_id, reason, status, created_at)
        VALUES (:id, :student_id, :connected_student_id, :reason, :status, :created_at)`
	for _, conn := range []*models.StudentConnection{forward, mirror} {
		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}
		if conn.Status == "" {
			conn.Status = models.ConnectionStatusIntroduced
		}
		if conn.CreatedAt.IsZero() {
			conn.CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, query, conn); err != nil {
			return fmt.Errorf("create connection: %w", err)
		}
	}
	return nil
}

// ListByStudent returns a student's connections, newest first.
func (r *ConnectionRepository) ListByStudent(ctx context.Context, studentID string) ([]models.StudentConnection, error) {
	const query = `SELECT id, student_id, connected_student_id, reason, status, created_at
        FROM student_connections WHERE student_id = $1 ORDER BY created_at DESC`
	var connections []models.StudentConnection
	if err := r.db.SelectContext(ctx, &connections, query, studentID); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return connections, nil
}

// CandidatePeers returns active students in a different batch that are not
// already connected to the given student. Level proximity is filtered in the
// service where level ordering lives.
func (r *ConnectionRepository) CandidatePeers(ctx context.Context, studentID, batch string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students s
        WHERE s.active = TRUE AND s.id <> $1 AND s.batch <> $2
        AND NOT EXISTS (
            SELECT 1 FROM student_connections sc
            WHERE sc.student_id = $1 AND sc.connected_student_id = s.id
        )
        ORDER BY s.created_at ASC`, prefixedStudentColumns("s"))
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, studentID, batch); err != nil {
		return nil, fmt.Errorf("candidate peers: %w", err)
	}
	return students, nil
}
