// eventgen seeds synthetic dispatch traffic for local testing. It can
// insert incidents and on-scene units straight into the database and
// emit matching events through the HTTP API so playbooks and the
// scanner have something to chew on.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn           string
	baseURL       string
	incidents     int
	onSceneUnits  int
	repeatAddress string
	repeatCount   int
	emitEvents    bool
}

var categories = []string{
	"STRUCTURE FIRE",
	"MVA WITH INJURIES",
	"MEDICAL EMERGENCY",
	"FUEL SPILL",
	"ALARM ACTIVATION",
}

var severities = []string{"low", "medium", "high", "critical"}

var streets = []string{
	"123 Main St", "9 Oak Ave", "450 Harbor Rd", "77 Mill Ln", "2100 Ridge Pkwy",
}

func main() {
	cfg := parseFlags()
	logger := log.New(os.Stdout, "[eventgen] ", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("ping database: %v", err)
	}

	gen := &generator{cfg: cfg, db: db, logger: logger, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

	if cfg.incidents > 0 {
		if err := gen.seedIncidents(ctx, cfg.incidents); err != nil {
			logger.Fatalf("seed incidents: %v", err)
		}
	}
	if cfg.repeatCount > 0 {
		if err := gen.seedRepeatedAlarms(ctx); err != nil {
			logger.Fatalf("seed repeated alarms: %v", err)
		}
	}
	if cfg.onSceneUnits > 0 {
		if err := gen.seedOnSceneUnits(ctx, cfg.onSceneUnits); err != nil {
			logger.Fatalf("seed on-scene units: %v", err)
		}
	}
	logger.Printf("done")
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.dsn, "database", os.Getenv("DATABASE_URL"), "postgres dsn")
	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "dispatch-ops base url")
	flag.IntVar(&cfg.incidents, "incidents", 5, "number of incidents to create")
	flag.IntVar(&cfg.onSceneUnits, "on-scene-units", 2, "units parked on scene past the reminder threshold")
	flag.StringVar(&cfg.repeatAddress, "repeat-address", "123 Main St", "address for the repeated-alarm batch")
	flag.IntVar(&cfg.repeatCount, "repeat-count", 0, "repeated alarms to create at the same address")
	flag.BoolVar(&cfg.emitEvents, "emit-events", true, "POST a matching event per created incident")
	flag.Parse()
	if cfg.dsn == "" {
		fmt.Fprintln(os.Stderr, "eventgen: -database or DATABASE_URL is required")
		os.Exit(2)
	}
	return cfg
}

type generator struct {
	cfg    config
	db     *sql.DB
	logger *log.Logger
	rng    *rand.Rand
}

func (g *generator) seedIncidents(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		category := categories[g.rng.Intn(len(categories))]
		severity := severities[g.rng.Intn(len(severities))]
		location := streets[g.rng.Intn(len(streets))]
		id, err := g.insertIncident(ctx, category, severity, location, time.Now().UTC())
		if err != nil {
			return err
		}
		g.logger.Printf("incident %s: %s at %s (%s)", id, category, location, severity)
		if g.cfg.emitEvents {
			g.emit("INCIDENT_CREATED", map[string]string{
				"incident_id": id,
				"category":    category,
				"severity":    severity,
				"location":    location,
			})
		}
	}
	return nil
}

func (g *generator) seedRepeatedAlarms(ctx context.Context) error {
	for i := 0; i < g.cfg.repeatCount; i++ {
		createdAt := time.Now().UTC().Add(-time.Duration(g.rng.Intn(120)) * time.Minute)
		id, err := g.insertIncident(ctx, "ALARM ACTIVATION", "medium", g.cfg.repeatAddress, createdAt)
		if err != nil {
			return err
		}
		g.logger.Printf("repeated alarm %s at %s", id, g.cfg.repeatAddress)
	}
	return nil
}

func (g *generator) seedOnSceneUnits(ctx context.Context, n int) error {
	incidentID, err := g.insertIncident(ctx, "STRUCTURE FIRE", "high", streets[0], time.Now().UTC().Add(-time.Hour))
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		unitID := "u-" + uuid.NewString()
		callSign := fmt.Sprintf("E%d", 20+i)
		arrivedAt := time.Now().UTC().Add(-time.Duration(45+g.rng.Intn(60)) * time.Minute)
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO units (id, call_sign, status, incident_id, arrived_at)
			VALUES ($1, $2, 'ON_SCENE', $3, $4)`,
			unitID, callSign, incidentID, arrivedAt)
		if err != nil {
			return fmt.Errorf("insert unit %s: %w", callSign, err)
		}
		g.logger.Printf("unit %s on scene at %s since %s", callSign, incidentID, arrivedAt.Format(time.RFC3339))
	}
	return nil
}

func (g *generator) insertIncident(ctx context.Context, category, severity, location string, createdAt time.Time) (string, error) {
	id := "inc-" + uuid.NewString()
	number := fmt.Sprintf("%s-%04d", createdAt.Format("06"), g.rng.Intn(10000))
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO incidents (id, number, category, severity, status, location, created_at)
		VALUES ($1, $2, $3, $4, 'OPEN', $5, $6)`,
		id, number, category, severity, location, createdAt)
	if err != nil {
		return "", fmt.Errorf("insert incident: %w", err)
	}
	return id, nil
}

func (g *generator) emit(eventType string, evctx map[string]string) {
	body, _ := json.Marshal(map[string]any{
		"event_type": eventType,
		"context":    evctx,
	})
	resp, err := http.Post(g.cfg.baseURL+"/api/v1/events", "application/json", bytes.NewReader(body))
	if err != nil {
		g.logger.Printf("emit %s failed: %v", eventType, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		g.logger.Printf("emit %s: unexpected status %d", eventType, resp.StatusCode)
	}
}
