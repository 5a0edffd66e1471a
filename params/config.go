package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Listen      string
	CORSOrigins []string
}

type Venue struct {
	// QuoteAsset is the cash side of every trade. Balances in any other
	// asset symbol are instrument holdings.
	QuoteAsset string
	// HistoryLimit caps public trade-history responses when the client
	// does not pass an explicit limit.
	HistoryLimit int
}

type Node struct {
	DataDir   string
	LogFile   string
	AdminName string
}

type Config struct {
	API   API
	Venue Venue
	Node  Node
}

func Default() Config {
	return Config{
		API: API{
			Listen:      ":8000",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Venue: Venue{
			QuoteAsset:   "RUB",
			HistoryLimit: 10,
		},
		Node: Node{
			DataDir:   "data/bourse",
			LogFile:   "",
			AdminName: "admin",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if listen := os.Getenv("API_LISTEN"); listen != "" {
		cfg.API.Listen = listen
	}
	if origins := os.Getenv("API_CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = strings.Split(origins, ",")
	}
	if quote := os.Getenv("VENUE_QUOTE_ASSET"); quote != "" {
		cfg.Venue.QuoteAsset = quote
	}
	if limit := os.Getenv("VENUE_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Venue.HistoryLimit = n
		}
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}
	if admin := os.Getenv("ADMIN_NAME"); admin != "" {
		cfg.Node.AdminName = admin
	}

	return cfg
}
