package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	ODEURL     string

	MetricsEnabled bool

	CacheDir       string
	CacheNamespace string
	CacheIndex     string // memory | redis
	RedisAddr      string
	RedisPrefix    string
	CacheOpTimeout time.Duration
	CacheLockTTL   time.Duration
	CacheLRUSize   int

	CacheFillMaxWorkers int
	CacheFillQueue      int
	FetchTimeout        time.Duration

	DecodeWorkers   int
	ImageExtensions []string

	FootprintRes int
	HotHalfLife  time.Duration
	HotThreshold float64
	HotSample    float64

	Events EventsCfg
}

func FromEnv() Config {
	res := getint("FOOTPRINT_RES", 2)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		ODEURL:     getenv("ODE_URL", "https://oderest.rsl.wustl.edu/live2/"),

		MetricsEnabled: getbool("METRICS_ENABLED", true),

		CacheDir:       getenv("CACHE_DIR", defaultCacheDir()),
		CacheNamespace: getenv("CACHE_NAMESPACE", "ode"),
		CacheIndex:     strings.ToLower(getenv("CACHE_INDEX", "memory")),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:    getenv("REDIS_PREFIX", "odebrowse:"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheLockTTL:   getduration("CACHE_LOCK_TTL", 2*time.Minute),
		CacheLRUSize:   getint("CACHE_LRU_SIZE", 4096),

		CacheFillMaxWorkers: getint("CACHE_FILL_MAX_WORKERS", 8),
		CacheFillQueue:      getint("CACHE_FILL_QUEUE", 64),
		FetchTimeout:        getduration("FETCH_TIMEOUT", 2*time.Minute),

		DecodeWorkers:   getint("DECODE_WORKERS", 4),
		ImageExtensions: parseList(getenv("IMAGE_EXTENSIONS", ".jpg,.png")),

		FootprintRes: res,
		HotHalfLife:  getduration("HOT_HALF_LIFE", 10*time.Minute),
		HotThreshold: getfloat("HOT_THRESHOLD", 0),
		HotSample:    getfloat("HOT_SAMPLE", 0.01),

		Events: EventsCfg{
			Enabled: getbool("FETCH_EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "browse-downloads"),
			Queue:   getint("FETCH_EVENTS_QUEUE", 1024),
		},
	}
}

func defaultCacheDir() string {
	if d, err := os.UserCacheDir(); err == nil && d != "" {
		return filepath.Join(d, "ode-browse-cache")
	}
	return filepath.Join(os.TempDir(), "ode-browse-cache")
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
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
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

// parse ".jpg, png ,.JPG" into [".jpg", ".png"]
func parseList(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, ".") {
			p = "." + p
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
