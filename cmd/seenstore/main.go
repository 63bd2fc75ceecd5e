// Operational tool for a seenstore data file: marks feed posts as seen and queries seen-state.
//
// Usage:
//
//	seenstore -data_dir=./data mark <uri> <cid> [<uri> <cid> ...]
//	seenstore -data_dir=./data check <uri> <cid> [<uri> <cid> ...]
//	seenstore -data_dir=./data stats

package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nobletooth/seenstore/pkg/config"
	"github.com/nobletooth/seenstore/pkg/seen"
	"github.com/nobletooth/seenstore/pkg/store"
	"github.com/nobletooth/seenstore/pkg/utils"
)

var (
	printVersion = flag.Bool("print_version", false, "Print the version and exit.")
	dataDir      = flag.String("data_dir", "./data", "Directory holding the store data file.")
	storeName    = flag.String("store_name", "seen-posts", "Name of the durable store to open.")
	feedName     = flag.String("feed", "cli", "Feed context recorded when marking posts as seen.")
)

// parsePosts turns trailing <uri> <cid> argument pairs into posts.
func parsePosts(args []string) ([]seen.Post, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, fmt.Errorf("expected <uri> <cid> pairs, got %d arguments", len(args))
	}
	posts := make([]seen.Post, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		posts = append(posts, seen.Post{URI: args[i], CID: args[i+1]})
	}
	return posts, nil
}

func run() error {
	args := flag.Args()
	if len(args) == 0 {
		return errors.New("expected a command: mark / check / stats")
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", *dataDir, err)
	}
	backend, err := store.NewBoltBackend(filepath.Join(*dataDir, *storeName+".db"), *storeName)
	if err != nil {
		return fmt.Errorf("failed to open store backend: %w", err)
	}
	batched := store.NewBatched(backend)
	defer func() {
		if err := batched.Close(); err != nil {
			slog.Error("Failed to close the store.", "error", err)
		}
	}()
	tracker := seen.New(batched)

	switch command := args[0]; command {
	case "mark":
		posts, err := parsePosts(args[1:])
		if err != nil {
			return err
		}
		for _, post := range posts {
			tracker.MarkSeen(post, seen.FeedContext(*feedName))
		}
		// A one-shot process can't wait out the batch interval; commit the group before exiting.
		if err := batched.Flush(); err != nil {
			return fmt.Errorf("failed to commit marked posts: %w", err)
		}
		slog.Info("Marked posts as seen.", "count", len(posts), "feed", *feedName)
	case "check":
		posts, err := parsePosts(args[1:])
		if err != nil {
			return err
		}
		for _, post := range posts {
			fmt.Printf("%t\t%s %s\n", tracker.IsPostSeen(post), post.URI, post.CID)
		}
		fmt.Printf("all seen: %t\n", tracker.IsSliceSeen(posts))
	case "stats":
		records, err := backend.Count()
		if err != nil {
			return fmt.Errorf("failed to count records: %w", err)
		}
		fmt.Printf("store=%s records=%d cached=%d\n", *storeName, records, tracker.CachedRecords())
	default:
		return fmt.Errorf("unknown command '%s'", command)
	}
	return nil
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Seenstore build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	if err := run(); err != nil {
		slog.Error("Seenstore command failed.", "error", err)
		os.Exit(1)
	}
}
