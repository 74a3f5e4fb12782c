package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/livefeed/server"
	"github.com/cyclopcam/livefeed/server/config"
	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("livefeed", "Resilient single-camera frame acquisition service")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "livefeed.yaml"})
	probe := parser.Flag("", "probe", &argparse.Options{Help: "Probe the configured source URLs and exit", Default: false})
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

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	if *probe {
		if !probeSources(cfg) {
			os.Exit(1)
		}
		return
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv.ListenForKillSignals()

	// Tell systemd that we're alive.
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.HTTP); err != nil {
		logger.Errorf("ListenHTTP: %v", err)
		srv.Shutdown(err)
	}

	err = <-srv.ShutdownComplete
	if err != nil {
		logger.Errorf("Exiting after fatal feed failure: %v", err)
		os.Exit(1)
	}
	logger.Infof("Exiting")
}

// probeSources inspects every configured URL and prints what it finds.
// Returns false if any source fails the probe.
func probeSources(cfg *config.Config) bool {
	ok := true
	for _, srcURL := range cfg.Feed.URLs {
		fmt.Printf("%v\n", srcURL)
		if feed.IsRTSP(srcURL) {
			medias, err := feed.DescribeRTSP(srcURL, 10*time.Second)
			if err != nil {
				fmt.Printf("  DESCRIBE failed: %v\n", err)
				ok = false
			} else {
				for _, m := range medias {
					fmt.Printf("  media: %v\n", m)
				}
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		info, err := feed.ProbeStream(ctx, srcURL)
		cancel()
		if err != nil {
			fmt.Printf("  probe failed: %v\n", err)
			ok = false
			continue
		}
		fmt.Printf("  codec %v, %vx%v @ %.1f fps\n", info.Codec, info.Width, info.Height, info.FrameRate)
	}
	return ok
}
