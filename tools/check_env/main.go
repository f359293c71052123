// Command check_env reports whether the environment (and .env, if present)
// holds a configuration the relay can start with.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/newsrelay/newsrelay/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Failed to read .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if err := cfg.LoadFeedFile(); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Configuration is valid (%d feeds, prefix %q, timezone %s)\n",
		len(cfg.Feeds), cfg.CommandPrefix, cfg.Timezone)
	if cfg.LogChannelID == "" {
		fmt.Println("LOG_CHANNEL_ID is not set; audit lines go to the process log only.")
	}
}
