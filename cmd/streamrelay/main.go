// Command streamrelay runs a relay node and offers client commands for
// pulling from and pushing to one.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/streamrelay/streamrelay"
	"github.com/TheusHen/streamrelay/streamrelay/config"
	"github.com/TheusHen/streamrelay/streamrelay/logging"
	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/units"
	"github.com/TheusHen/streamrelay/streamrelay/upstream"
)

var version = "dev"

var CLI struct {
	Config    string `name:"config" short:"c" help:"Config file (.env or YAML); environment only when empty" type:"path"`
	LogLevel  string `name:"log-level" help:"Override the configured log level"`
	LogFormat string `name:"log-format" help:"Override the configured log format (text or json)"`

	Serve    ServeCmd    `cmd:"" help:"Run a relay node"`
	Download DownloadCmd `cmd:"" help:"Pull generated bytes from a node and count them"`
	Upload   UploadCmd   `cmd:"" help:"Push generated bytes to a node"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

type ServeCmd struct {
	HTTP   string `name:"http" help:"Override the HTTP listen address"`
	H3     string `name:"h3" help:"Enable HTTP/3 on this UDP address"`
	Stream string `name:"stream" help:"Enable the raw QUIC stream service on this UDP address"`
}

func (s *ServeCmd) Run(ctx context.Context, cfg *config.Config) error {
	if s.HTTP != "" {
		cfg.HTTP.Addr = s.HTTP
	}
	if s.H3 != "" {
		cfg.H3.Enabled, cfg.H3.Addr = true, s.H3
	}
	if s.Stream != "" {
		cfg.Stream.Enabled, cfg.Stream.Addr = true, s.Stream
	}
	node, err := streamrelay.NewNode(cfg)
	if err != nil {
		return err
	}
	return node.Run(ctx)
}

// Target selects the remote node for the client commands.
type Target struct {
	Addr string `name:"addr" required:"" help:"Base URL (http, h3) or host:port (quic) of the node"`
	Mode string `name:"mode" enum:"http,h3,quic" default:"http" help:"Transport: http, h3 or quic"`
	LZ4  bool   `name:"lz4" help:"Compress HTTP bodies with lz4"`
}

func (t Target) upstream() upstream.Upstream {
	switch t.Mode {
	case config.UpstreamQUIC:
		return upstream.NewQUIC(upstream.Fixed(t.Addr))
	case config.UpstreamH3:
		return upstream.NewHTTP(upstream.Fixed(t.Addr), upstream.HTTPOptions{H3: true, Compress: t.LZ4})
	default:
		return upstream.NewHTTP(upstream.Fixed(t.Addr), upstream.HTTPOptions{Compress: t.LZ4})
	}
}

type DownloadCmd struct {
	Target `embed:""`
	Size string `arg:"" help:"Bytes to request (e.g. 1048576, 3KiB, 1GB)"`
	Out  string `name:"out" short:"o" help:"Write the content to this file instead of discarding it" type:"path"`
}

func (d *DownloadCmd) Run(ctx context.Context, cfg *config.Config) error {
	n, err := units.ParseSize(d.Size)
	if err != nil {
		return err
	}
	engine, err := streamrelay.NewEngine(cfg.Transfer)
	if err != nil {
		return err
	}
	up := d.upstream()
	defer closeUpstream(up)

	start := time.Now()
	rc, err := up.Download(ctx, n)
	if err != nil {
		return err
	}
	defer rc.Close()

	var got int64
	if d.Out != "" {
		f, err := os.Create(d.Out)
		if err != nil {
			return err
		}
		got, err = engine.Relay(f, rc)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	} else if got, err = engine.Consume(rc); err != nil {
		return err
	}
	report("downloaded", got, time.Since(start))
	if got != n {
		return fmt.Errorf("asked for %d bytes, received %d", n, got)
	}
	return nil
}

type UploadCmd struct {
	Target `embed:""`
	Size string `arg:"" help:"Bytes to generate and send"`
}

func (u *UploadCmd) Run(ctx context.Context, cfg *config.Config) error {
	n, err := units.ParseSize(u.Size)
	if err != nil {
		return err
	}
	engine, err := streamrelay.NewEngine(cfg.Transfer)
	if err != nil {
		return err
	}
	src, err := engine.Generate(n)
	if err != nil {
		return err
	}
	up := u.upstream()
	defer closeUpstream(up)

	start := time.Now()
	st, err := up.Upload(ctx)
	if err != nil {
		return err
	}
	moved, err := engine.Relay(st, src)
	if err != nil {
		st.Abort(err)
		return err
	}
	if err := st.Close(); err != nil {
		return err
	}
	counted, err := st.Result()
	if err != nil {
		return err
	}
	report("uploaded", moved, time.Since(start))
	if counted != moved {
		return fmt.Errorf("sent %d bytes, node counted %d", moved, counted)
	}
	return nil
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Printf("streamrelay %s (buffer %s, corpus %d bytes)\n",
		version, units.Format(transfer.DefaultBufferSize), transfer.DefaultCorpus().Len())
	return nil
}

func report(verb string, n int64, elapsed time.Duration) {
	rate := float64(n) / elapsed.Seconds()
	fmt.Printf("%s %s (%d bytes) in %s, %s/s\n",
		verb, units.Format(n), n, elapsed.Round(time.Millisecond), humanize.IBytes(uint64(rate)))
}

func closeUpstream(up upstream.Upstream) {
	if c, ok := up.(io.Closer); ok {
		c.Close()
	}
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("streamrelay"),
		kong.Description("Bounded-memory streaming relay node"),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(CLI.Config)
	kctx.FatalIfErrorf(err)
	if CLI.LogLevel != "" {
		cfg.Log.Level = CLI.LogLevel
	}
	if CLI.LogFormat != "" {
		cfg.Log.Format = CLI.LogFormat
	}
	kctx.FatalIfErrorf(logging.Setup(cfg.Log.Level, cfg.Log.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(cfg); err != nil {
		logrus.WithError(err).Error("command failed")
		stop()
		os.Exit(1)
	}
}
