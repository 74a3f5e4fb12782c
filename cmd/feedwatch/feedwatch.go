package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/livefeed/server/framedir"
	"github.com/cyclopcam/logs"
)

// feedwatch tails a livefeed frames directory: whenever a newer frame JPEG
// lands, it prints the path (or copies the file to a fixed name, which is
// handy for pointing legacy viewers at).

func main() {
	parser := argparse.NewParser("feedwatch", "Follow the newest frame in a livefeed frames directory")
	dir := parser.String("d", "dir", &argparse.Options{Help: "Frames directory to watch", Required: true})
	copyTo := parser.String("", "copy-to", &argparse.Options{Help: "Copy each new frame to this filename instead of printing its path", Default: ""})
	intervalMS := parser.Int("", "interval", &argparse.Options{Help: "Poll interval in milliseconds", Default: 200})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	poller := framedir.NewPoller(logger, *dir, time.Duration(*intervalMS)*time.Millisecond)
	poller.OnFrame = func(path string, modTime time.Time) {
		if *copyTo == "" {
			fmt.Printf("%v %v\n", modTime.Format(time.RFC3339), path)
			return
		}
		if err := copyFile(path, *copyTo); err != nil {
			logger.Warnf("Failed to copy %v: %v", path, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	poller.Run(ctx)
}

// copyFile lands the frame under a temp name first, so a viewer polling the
// target never reads a half-written JPEG.
func copyFile(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tempFile := dst + ".tmp"
	if err := os.WriteFile(tempFile, raw, 0644); err != nil {
		return err
	}
	if err := os.Rename(tempFile, dst); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}
