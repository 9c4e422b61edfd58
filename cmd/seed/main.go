package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolSettings{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedServices(context.Background(), pool); err != nil {
		log.Fatalf("seed services: %v", err)
	}
	if err := seedSpecialists(context.Background(), pool, 25); err != nil {
		log.Fatalf("seed specialists: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) error {
	services := []struct {
		name  string
		desc  string
		price string
	}{
		{"General Consultation", "Initial assessment with a specialist", "50.00"},
		{"Dermatology Treatment", "Skin evaluation and treatment plan", "120.00"},
		{"Physiotherapy Session", "One-hour guided physiotherapy", "80.00"},
		{"Nutrition Plan", "Personalized diet consultation", "65.00"},
		{"Dental Cleaning", "Full dental hygiene session", "90.00"},
		{"Laser Therapy", "Targeted laser skin therapy", "150.00"},
	}

	log.Printf("seeding %d services", len(services))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range services {
		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, description, price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO NOTHING
		`, uuid.New(), s.name, s.desc, s.price)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedSpecialists(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d specialists", count)

	specialties := []string{
		"Dermatology",
		"Physiotherapy",
		"Nutrition",
		"Dentistry",
		"General Practice",
		"Cosmetic Medicine",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		first := gofakeit.FirstName()
		last := gofakeit.LastName()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO specialists (id, first_name, last_name, specialty, email, account_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), first, last, specialty, email, uuid.New())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patient profiles", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			dob := gofakeit.DateRange(
				time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2007, 12, 31, 0, 0, 0, 0, time.UTC),
			)

			_, err := tx.Exec(ctx, `
				INSERT INTO patient_profiles (patient_id, name, email, date_of_birth)
				VALUES ($1, $2, $3, $4)
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), dob)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patient profiles seeded: %d/%d", end, count)
	}

	return nil
}
