// Fetches the IF-Archive's Z-code index and downloads every story file into
// a local directory, for use by the gametest harness.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/golang/glog"
)

const archiveIndexURL = "https://www.ifarchive.org/indexes/if-archive/games/zcode/"

var storyFilePattern = regexp.MustCompile(`.*\.z[1234578]$`)

type game struct {
	name string
	url  string
}

func main() {
	outputDir := flag.String("output", "stories", "Directory to download story files into")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		glog.Exitf("Failed to create output directory: %v", err)
	}

	c := &http.Client{Timeout: 30 * time.Second}
	games, err := fetchIndex(c)
	if err != nil {
		glog.Exitf("Failed to fetch index: %v", err)
	}

	fmt.Printf("Found %d games to download\n", len(games))

	downloaded, skipped, failed := 0, 0, 0
	for i, game := range games {
		destPath := filepath.Join(*outputDir, game.name)

		if _, err := os.Stat(destPath); err == nil {
			skipped++
			continue
		}

		fmt.Printf("[%d/%d] Downloading %s... ", i+1, len(games), game.name)

		data, err := fetchStory(c, game.url)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failed++
			continue
		}

		if err := os.WriteFile(destPath, data, 0644); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failed++
			continue
		}

		fmt.Printf("OK (%d bytes)\n", len(data))
		downloaded++

		// Be nice to the server
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("\nDone! Downloaded: %d, Skipped: %d, Failed: %d\n", downloaded, skipped, failed)

	manifestPath := filepath.Join(*outputDir, "manifest.txt")
	var manifest strings.Builder
	for _, game := range games {
		manifest.WriteString(game.name + "\n")
	}
	os.WriteFile(manifestPath, []byte(manifest.String()), 0644) // nolint:errcheck
	fmt.Printf("Wrote manifest to %s\n", manifestPath)
}

func fetchIndex(c *http.Client) ([]game, error) {
	res, err := c.Get(archiveIndexURL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close() // nolint:errcheck

	if res.StatusCode != 200 {
		return nil, fmt.Errorf("index returned %s", res.Status)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, err
	}

	var games []game
	doc.Find("dl dt").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Find("a").Attr("href")
		if !exists || !storyFilePattern.MatchString(href) {
			return
		}

		games = append(games, game{
			name: filepath.Base(href),
			url:  "https://www.ifarchive.org" + href,
		})
	})

	return games, nil
}

func fetchStory(c *http.Client, url string) ([]byte, error) {
	resp, err := c.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
