package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	FeedsDir          string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	SyncSliceSize     int
	APIAccessKey      string

	// Freshness cache configuration
	RedisAddr string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
