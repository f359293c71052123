// Command validate_feeds fetches every feed in the feed file and reports
// which ones parse.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/newsrelay/newsrelay/internal/config"
	"github.com/newsrelay/newsrelay/internal/feeds"
)

type result struct {
	source  feeds.Source
	valid   bool
	message string
	took    time.Duration
}

func main() {
	path := flag.String("file", "config/feeds.yml", "feed file to validate")
	timeout := flag.Duration("timeout", 10*time.Second, "per-feed timeout")
	flag.Parse()

	fmt.Println("RSS Feed Validator")
	fmt.Println("==================")

	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Printf("Error reading feed file: %v\n", err)
		os.Exit(1)
	}
	ff, err := config.ParseFeedFile(data)
	if err != nil {
		fmt.Printf("Error parsing feed file: %v\n", err)
		os.Exit(1)
	}

	sources := ff.Feeds
	if len(sources) == 0 {
		sources = feeds.DefaultSources
	}
	fmt.Printf("Found %d feeds to validate\n\n", len(sources))

	client := &http.Client{Timeout: *timeout}
	results := make(chan result, len(sources))

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src feeds.Source) {
			defer wg.Done()
			results <- check(client, src, *timeout)
		}(src)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var valid int
	var invalid []string
	for r := range results {
		if r.valid {
			fmt.Printf("✅ %-30s [%7dms] %s\n", r.source.Name, r.took.Milliseconds(), r.message)
			valid++
			continue
		}
		fmt.Printf("❌ %-30s [%7dms] %s\n", r.source.Name, r.took.Milliseconds(), r.message)
		invalid = append(invalid, r.source.Name)
	}

	fmt.Println("\nValidation Summary:")
	fmt.Printf("Valid feeds:   %d\n", valid)
	fmt.Printf("Invalid feeds: %d\n", len(invalid))

	if len(invalid) > 0 {
		fmt.Println("\nInvalid feeds:")
		for _, name := range invalid {
			fmt.Printf("- %s\n", name)
		}
		os.Exit(1)
	}
}

func check(client *http.Client, src feeds.Source, timeout time.Duration) result {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	feed, err := feeds.FetchFeed(ctx, client, "NewsRelay Feed Validator/1.0", src.URL)
	if err != nil {
		return result{source: src, message: err.Error(), took: time.Since(start)}
	}
	return result{
		source:  src,
		valid:   true,
		message: fmt.Sprintf("OK (%q, %d entries)", feed.Title, len(feed.Items)),
		took:    time.Since(start),
	}
}
