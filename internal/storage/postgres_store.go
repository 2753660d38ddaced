package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/emergency-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.EmergencyRequest) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO emergency_requests(id, patient_name, lat, lon, address, city, services, urgency, offered_price, notes, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.PatientName, r.Loc.Lat, r.Loc.Lon, r.Address, r.City, pq.Array(r.Services),
		string(r.Urgency), r.OfferedPrice, r.Notes, string(r.Status), r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, patient_name, lat, lon, address, city, services, urgency, offered_price, notes, status, created_at
		 FROM emergency_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListLive(ctx context.Context) ([]models.EmergencyRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, patient_name, lat, lon, address, city, services, urgency, offered_price, notes, status, created_at
		 FROM emergency_requests WHERE status='live' ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.EmergencyRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status models.RequestStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE emergency_requests SET status=$1, updated_at=$2 WHERE id=$3`,
		string(status), time.Now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM emergency_requests WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SaveOffer(ctx context.Context, o *models.CaregiverOffer) error {
	var lat, lon *float64
	if o.Loc != nil {
		lat, lon = &o.Loc.Lat, &o.Loc.Lon
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO caregiver_offers(id, request_id, caregiver_id, price, eta_minutes, message, lat, lon, distance_km, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.RequestID, o.CaregiverID, o.Price, o.ETAMinutes, o.Message, lat, lon, o.DistanceKm,
		string(o.Status), o.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateOffer
	}
	return err
}

func (p *PostgresStore) RequestIDsOffered(ctx context.Context, caregiverID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT request_id FROM caregiver_offers WHERE caregiver_id=$1`, caregiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CaregiversFor(ctx context.Context, requestID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT caregiver_id FROM caregiver_offers WHERE request_id=$1`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetProfile(ctx context.Context, id string) (*models.CaregiverProfile, error) {
	var c models.CaregiverProfile
	var services pq.StringArray
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, services, max_radius_km, city, visit_fee FROM caregiver_profiles WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &services, &c.MaxRadiusKm, &c.City, &c.VisitFee)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Services = services
	return &c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.EmergencyRequest, error) {
	var r models.EmergencyRequest
	var services pq.StringArray
	var urgency, status string
	err := row.Scan(&r.ID, &r.PatientName, &r.Loc.Lat, &r.Loc.Lon, &r.Address, &r.City,
		&services, &urgency, &r.OfferedPrice, &r.Notes, &status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Services = services
	r.Urgency = models.Urgency(urgency)
	r.Status = models.RequestStatus(status)
	return &r, nil
}

// 23505 is Postgres unique_violation; the caregiver_offers table has a
// UNIQUE(request_id, caregiver_id) constraint.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
