package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"transit-planner/internal/logging"
)

type Config struct {
	DatabaseURL string
	City        string
	GTFSPath    string // static feed zip; used instead of the database when set
	OSMPath     string
	ServiceDate time.Time
	Location    *time.Location

	WalkCutoff   time.Duration
	WalkSpeedMps float64

	MaxTransfers int
	ChangeTime   time.Duration
	MinWalk      time.Duration
	ScenarioPath string
	QueryWorkers int

	TripUpdatesURL  string
	RefreshInterval time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	LogLevel          slog.Level
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL (cluster DSN): prefer DATABASE_URL / PG_DSN, else build from PG* vars
	cfg.GTFSPath = os.Getenv("GTFS_PATH")
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		// With CITY the latest import is resolved from the 'postgres' meta DB.
		if db == "" && os.Getenv("CITY") != "" {
			db = "postgres"
		}
		switch {
		case db != "":
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		case cfg.GTFSPath == "":
			return nil, errors.New("GTFS_PATH, PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	// City name for dynamic DB resolution
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	cfg.OSMPath = os.Getenv("OSM_PBF_PATH")
	cfg.ScenarioPath = os.Getenv("SCENARIO_PATH")
	cfg.TripUpdatesURL = os.Getenv("GTFSRT_TRIP_UPDATES_URL")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if v := os.Getenv("SERVICE_DATE"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVICE_DATE: %q", v)
		}
		cfg.ServiceDate = d
	} else {
		now := time.Now().In(cfg.Location)
		cfg.ServiceDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, cfg.Location)
	}

	var err error
	if cfg.WalkCutoff, err = seconds("WALK_CUTOFF_SEC", 270, false); err != nil {
		return nil, err
	}
	if cfg.ChangeTime, err = seconds("CHANGE_TIME_SEC", 120, true); err != nil {
		return nil, err
	}
	if cfg.MinWalk, err = seconds("MIN_WALK_SEC", 30, true); err != nil {
		return nil, err
	}
	// Zero disables the GTFS-RT refresher.
	if cfg.RefreshInterval, err = seconds("GTFSRT_REFRESH_SEC", 60, true); err != nil {
		return nil, err
	}

	// Walking speed
	if v := os.Getenv("WALK_SPEED_MPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid WALK_SPEED_MPS: %q", v)
		}
		cfg.WalkSpeedMps = f
	} else {
		cfg.WalkSpeedMps = 1.4
	}

	if v := os.Getenv("MAX_TRANSFERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MAX_TRANSFERS: %q", v)
		}
		cfg.MaxTransfers = n
	} else {
		cfg.MaxTransfers = 3
	}

	if v := os.Getenv("QUERY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid QUERY_WORKERS: %q", v)
		}
		cfg.QueryWorkers = n
	} else {
		cfg.QueryWorkers = 4
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "journeys")

	// Log every NATS publish subject
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if cfg.LogLevel, err = logging.ParseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return nil, err
	}

	return cfg, nil
}

func seconds(key string, def int, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 || (sec == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
