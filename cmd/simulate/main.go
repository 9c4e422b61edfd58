package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-booking/internal/db"
)

// The simulator hammers the booking API with concurrent requests for
// the SAME specialist/date/time and verifies that exactly one booking
// per slot succeeds while the rest get conflicts. It then runs a mixed
// read/confirm load against the bookings it created.

type SimConfig struct {
	APIBaseURL  string
	PostgresDSN string
	Workers     int
	Races       int
	DeskID      uuid.UUID
}

type DataPool struct {
	Patients    []uuid.UUID
	Specialists []uuid.UUID
	Services    []uuid.UUID
}

type RaceResult struct {
	Created   int64
	Conflicts int64
	Errors    int64
	WinnerID  uuid.UUID
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	log.Printf("config: base=%s workers=%d races=%d", cfg.APIBaseURL, cfg.Workers, cfg.Races)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolSettings{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	pool, err := loadDataPool(ctx, pgPool)
	pgPool.Close()
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d patients, %d specialists, %d services",
		len(pool.Patients), len(pool.Specialists), len(pool.Services))

	client := &http.Client{Timeout: 10 * time.Second}

	var totalCreated, totalConflicts, totalErrors int64
	var winners []uuid.UUID

	baseDate := time.Now().UTC().AddDate(0, 0, 1)
	for race := 0; race < cfg.Races; race++ {
		specialist := pool.Specialists[rand.Intn(len(pool.Specialists))]
		service := pool.Services[rand.Intn(len(pool.Services))]
		date := baseDate.AddDate(0, 0, race/8).Format("2006-01-02")
		slot := fmt.Sprintf("%02d:00", 9+race%8)

		res := runRace(client, cfg, pool, specialist, service, date, slot)

		totalCreated += res.Created
		totalConflicts += res.Conflicts
		totalErrors += res.Errors
		if res.WinnerID != uuid.Nil {
			winners = append(winners, res.WinnerID)
		}

		status := "OK"
		if res.Created != 1 {
			status = "VIOLATION"
		}
		log.Printf("race %d: slot %s %s specialist=%s created=%d conflicts=%d errors=%d [%s]",
			race, date, slot, specialist, res.Created, res.Conflicts, res.Errors, status)
	}

	log.Printf("race summary: created=%d conflicts=%d errors=%d (expected created=%d)",
		totalCreated, totalConflicts, totalErrors, cfg.Races)
	if totalCreated != int64(cfg.Races) {
		log.Printf("SLOT EXCLUSIVITY VIOLATED: %d slots, %d bookings", cfg.Races, totalCreated)
	} else {
		log.Println("slot exclusivity held across all races")
	}

	confirmed, failed := confirmAll(client, cfg, winners)
	log.Printf("confirm pass: confirmed=%d failed=%d", confirmed, failed)

	log.Println("simulator done")
}

// runRace fires Workers concurrent booking requests for one slot, each
// on behalf of a different patient.
func runRace(client *http.Client, cfg SimConfig, pool *DataPool, specialist, service uuid.UUID, date, slot string) RaceResult {
	var res RaceResult
	var winnerMu sync.Mutex

	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < cfg.Workers; i++ {
		patient := pool.Patients[rand.Intn(len(pool.Patients))]

		wg.Add(1)
		go func(patient uuid.UUID) {
			defer wg.Done()
			<-start

			body, _ := json.Marshal(map[string]string{
				"service_id":    service.String(),
				"specialist_id": specialist.String(),
				"date":          date,
				"time":          slot,
			})

			req, err := http.NewRequest(http.MethodPost, cfg.APIBaseURL+"/appointments", bytes.NewReader(body))
			if err != nil {
				atomic.AddInt64(&res.Errors, 1)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Actor-ID", patient.String())
			req.Header.Set("X-Actor-Role", "patient")

			resp, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&res.Errors, 1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				atomic.AddInt64(&res.Created, 1)
				var created struct {
					ID uuid.UUID `json:"id"`
				}
				data, _ := io.ReadAll(resp.Body)
				if json.Unmarshal(data, &created) == nil {
					winnerMu.Lock()
					res.WinnerID = created.ID
					winnerMu.Unlock()
				}
			case http.StatusConflict:
				atomic.AddInt64(&res.Conflicts, 1)
			default:
				atomic.AddInt64(&res.Errors, 1)
			}
		}(patient)
	}

	close(start)
	wg.Wait()
	return res
}

// confirmAll walks the winning bookings as a desk staffer and confirms
// each one.
func confirmAll(client *http.Client, cfg SimConfig, ids []uuid.UUID) (confirmed, failed int) {
	for _, id := range ids {
		req, err := http.NewRequest(http.MethodPost, cfg.APIBaseURL+"/appointments/"+id.String()+"/confirm", nil)
		if err != nil {
			failed++
			continue
		}
		req.Header.Set("X-Actor-ID", cfg.DeskID.String())
		req.Header.Set("X-Actor-Role", "staff")

		resp, err := client.Do(req)
		if err != nil {
			failed++
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			confirmed++
		} else {
			failed++
		}
	}
	return confirmed, failed
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT patient_id FROM patient_profiles LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM specialists LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("query specialists: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Specialists = append(dp.Specialists, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM services LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Services = append(dp.Services, id)
	}
	rows.Close()

	if len(dp.Patients) == 0 || len(dp.Specialists) == 0 || len(dp.Services) == 0 {
		return nil, fmt.Errorf("data pool is empty, run the seeder first")
	}
	return dp, nil
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		Workers:     getEnvInt("SIM_WORKERS", 20),
		Races:       getEnvInt("SIM_RACES", 16),
		DeskID:      uuid.New(),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
