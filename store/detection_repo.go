// Package store persists detection history in Postgres so users can flag
// misclassified lights.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/Tutortoise/traffic-signal-service/apperrors"
	"github.com/Tutortoise/traffic-signal-service/models"
)

const schema = `
create table if not exists detections (
	id           bigserial primary key,
	image_hash   text             not null,
	class_name   text             not null,
	color        text             not null,
	confidence   double precision not null,
	distance     double precision not null,
	x1           double precision not null,
	y1           double precision not null,
	x2           double precision not null,
	y2           double precision not null,
	is_correct   boolean,
	actual_color text,
	created_at   timestamptz      not null default now()
);
create index if not exists detections_image_hash_idx on detections(image_hash);`

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

type DetectionRepo struct{ DB *sql.DB }

func NewDetectionRepo(db *sql.DB) *DetectionRepo { return &DetectionRepo{DB: db} }

func (r *DetectionRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Record stores every detection of a freshly computed result under the
// payload digest and returns the new row ids in detection order.
func (r *DetectionRepo) Record(ctx context.Context, imageHash string, result *models.Result) ([]int64, error) {
	if result == nil || len(result.Detections) == 0 {
		return nil, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const q = `
insert into detections(image_hash, class_name, color, confidence, distance, x1, y1, x2, y2)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
returning id`

	ids := make([]int64, 0, len(result.Detections))
	for _, d := range result.Detections {
		var id int64
		err := tx.QueryRowContext(ctx, q,
			imageHash, d.ClassName, string(d.Color), d.Confidence, d.Distance,
			d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2,
		).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Report marks detection id as misclassified with the color the user saw.
func (r *DetectionRepo) Report(ctx context.Context, id int64, actual models.ColorLabel) error {
	if err := ValidateReportedColor(actual); err != nil {
		return err
	}

	const q = `update detections set is_correct=false, actual_color=$2 where id=$1`
	res, err := r.DB.ExecContext(ctx, q, id, string(actual))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("detection %d not found", id))
	}
	return nil
}

// Record is one stored detection. IsCorrect and ActualColor stay nil until
// the detection is reported.
type Record struct {
	ID          int64              `json:"id"`
	ImageHash   string             `json:"image_hash"`
	ClassName   string             `json:"class_name"`
	Color       models.ColorLabel  `json:"color"`
	Confidence  float64            `json:"confidence"`
	Distance    float64            `json:"distance"`
	Box         models.Box         `json:"box"`
	IsCorrect   *bool              `json:"is_correct"`
	ActualColor *models.ColorLabel `json:"actual_color"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (r *DetectionRepo) Find(ctx context.Context, id int64) (Record, error) {
	const q = `select id, image_hash, class_name, color, confidence, distance, x1, y1, x2, y2,
	                  is_correct, actual_color, created_at
	           from detections where id=$1`
	var (
		rec       Record
		color     string
		isCorrect sql.NullBool
		actual    sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, q, id).Scan(
		&rec.ID, &rec.ImageHash, &rec.ClassName, &color, &rec.Confidence, &rec.Distance,
		&rec.Box.X1, &rec.Box.Y1, &rec.Box.X2, &rec.Box.Y2,
		&isCorrect, &actual, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperrors.NewNotFoundError(fmt.Sprintf("detection %d not found", id))
	}
	if err != nil {
		return Record{}, err
	}
	rec.Color = models.ColorLabel(color)
	if isCorrect.Valid {
		rec.IsCorrect = &isCorrect.Bool
	}
	if actual.Valid {
		c := models.ColorLabel(actual.String)
		rec.ActualColor = &c
	}
	return rec, nil
}

// ValidateReportedColor accepts only concrete lamp colors.
func ValidateReportedColor(c models.ColorLabel) error {
	switch c {
	case models.ColorRed, models.ColorYellow, models.ColorGreen:
		return nil
	default:
		return apperrors.NewInvalidInputError(fmt.Sprintf("actual_color must be red, yellow or green (got %q)", c))
	}
}
