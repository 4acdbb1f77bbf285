package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type BoundaryCfg struct {
	NominatimURL      string
	NominatimLimit    int
	NominatimRPS      float64
	OverpassURL       string
	Timeout           time.Duration
	SimplifyTolerance float64
	CacheTTL          time.Duration
}

type LayersCfg struct {
	Provider    string
	OverpassURL string
	MockCount   int
	MockSeed    uint64
	CacheTTL    time.Duration
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	LogLevel   string
	LogConsole bool
	LogSampleN int

	Boundary BoundaryCfg
	Layers   LayersCfg

	RedisAddr       string
	CacheOpTimeout  time.Duration
	CacheMaxEntries int

	PointsSource string
	PointsFile   string
	DatabaseURL  string

	SessionIdleTTL time.Duration
	SessionMax     int

	DensityH3Res int

	Invalidation InvalidationCfg

	MetricsEnabled bool
	MetricsAddr    string
}

func FromEnv() Config {
	overpassURL := getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter")

	res := getint("DENSITY_H3_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	rps := getfloat("NOMINATIM_RPS", 1)
	if rps <= 0 {
		rps = 1
	}

	provider := strings.ToLower(getenv("LAYER_PROVIDER", "overpass"))
	if provider != "mock" {
		provider = "overpass"
	}

	source := strings.ToLower(getenv("POINTS_SOURCE", "none"))
	switch source {
	case "file", "postgres":
	default:
		source = "none"
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		ShutdownTimeout: getduration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		Boundary: BoundaryCfg{
			NominatimURL:      getenv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
			NominatimLimit:    getint("NOMINATIM_LIMIT", 5),
			NominatimRPS:      rps,
			OverpassURL:       overpassURL,
			Timeout:           getduration("BOUNDARY_TIMEOUT", 30*time.Second),
			SimplifyTolerance: getfloat("BOUNDARY_SIMPLIFY_TOLERANCE", 0.001),
			CacheTTL:          getduration("CACHE_BOUNDARY_TTL", 0),
		},
		Layers: LayersCfg{
			Provider:    provider,
			OverpassURL: overpassURL,
			MockCount:   getint("MOCK_LAYER_COUNT", 20),
			MockSeed:    getuint64("MOCK_SEED", 1),
			CacheTTL:    getduration("CACHE_LAYER_TTL", 0),
		},

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheMaxEntries: getint("CACHE_MAX_ENTRIES", 0),

		PointsSource: source,
		PointsFile:   getenv("POINTS_FILE", "data/memorials.geojson"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		SessionIdleTTL: getduration("SESSION_IDLE_TTL", 30*time.Minute),
		SessionMax:     getint("SESSION_MAX", 1024),

		DensityH3Res: res,

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "geoengine-cache-clear"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "geoengine"),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getuint64(k string, def uint64) uint64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
