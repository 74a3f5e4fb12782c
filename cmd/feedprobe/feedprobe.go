package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/livefeed/server/feed"
)

// feedprobe is the operator's stream-inspection tool: point it at a source
// URL before committing it to the config, or let it ask a camera for its
// stream URLs via ONVIF.

func main() {
	parser := argparse.NewParser("feedprobe", "Inspect a video source before feeding it to livefeed")
	srcURL := parser.String("u", "url", &argparse.Options{Help: "Source URL to probe (rtsp://, http://, or a file)", Default: ""})
	onvifHost := parser.String("", "onvif", &argparse.Options{Help: "Discover stream URLs of an ONVIF camera (host or host:port)", Default: ""})
	username := parser.String("", "user", &argparse.Options{Help: "ONVIF username", Default: ""})
	password := parser.String("", "pass", &argparse.Options{Help: "ONVIF password", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if *srcURL == "" && *onvifHost == "" {
		fmt.Print(parser.Usage("need --url or --onvif"))
		os.Exit(1)
	}

	if *onvifHost != "" {
		info, err := onvifDiscover(*onvifHost, *username, *password)
		if err != nil {
			fmt.Printf("ONVIF discovery failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Device: %v %v (firmware %v, serial %v)\n", info.Manufacturer, info.Model, info.Firmware, info.Serial)
		for _, stream := range info.Streams {
			fmt.Printf("  %v: %v\n", stream.Profile, stream.URL)
		}
	}

	if *srcURL != "" {
		if err := probeURL(*srcURL); err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
	}
}

func probeURL(srcURL string) error {
	if feed.IsRTSP(srcURL) {
		medias, err := feed.DescribeRTSP(srcURL, 10*time.Second)
		if err != nil {
			return err
		}
		fmt.Printf("DESCRIBE %v:\n", srcURL)
		for _, m := range medias {
			fmt.Printf("  %v\n", m)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	info, err := feed.ProbeStream(ctx, srcURL)
	if err != nil {
		return err
	}
	fmt.Printf("Video: codec %v, %vx%v @ %.1f fps\n", info.Codec, info.Width, info.Height, info.FrameRate)
	return nil
}
