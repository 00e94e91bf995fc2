// Command bgdebug prints the computed background-image of every element of a
// page, one per line, followed by the url() references each resolves to.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/net/html"

	"imagepicker/discovery"
	"imagepicker/internal/fetch"
	"imagepicker/internal/logging"
	"imagepicker/internal/page"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bgdebug <url|file>")
		os.Exit(2)
	}
	url := os.Args[1]
	ctx := context.Background()
	logger := logging.New(logging.LevelFromEnv("debug"), logging.FormatText, os.Stderr)

	opts := fetch.DefaultOptions()
	opts.UserAgent = "bgdebug/1.0"
	fetcher := page.FileFetcher{Next: fetch.NewClient(opts)}

	log.Printf("fetch %s", url)
	body, err := fetcher.Fetch(ctx, url)
	if err != nil {
		log.Fatal(err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	values := discovery.ComputedBackgrounds(ctx, doc, url, fetcher, logger)
	if len(values) == 0 {
		log.Print("no background images")
		return
	}
	for i, v := range values {
		fmt.Printf("%3d %s\n", i+1, v)
		for _, ref := range discovery.BackgroundURLs(v) {
			fmt.Printf("      -> %s (%s)\n", ref, discovery.DetectKind(ref))
		}
	}
}
