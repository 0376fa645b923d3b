package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"ipcwire/pkg/channel"
	"ipcwire/pkg/config"
	"ipcwire/pkg/dispatch"
	"ipcwire/pkg/ipc"
	"ipcwire/pkg/ipc/codec"
	"ipcwire/pkg/observability"
)

const (
	echoRouting int32  = 1
	pingType    uint32 = 0x1001
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ipcwire-ping", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	message := fs.String("message", "hello ipcwire", "Ping payload text")
	timeout := fs.Duration("timeout", 5*time.Second, "Reply wait timeout")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ep, err := channel.ByKind(cfg.Channel.Kind)
	if err != nil {
		zap.L().Error("bad channel kind", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := ep.Dial(ctx, cfg.Channel.Address)
	if err != nil {
		zap.L().Error("dial failed", zap.Error(err))
		return 1
	}
	ch := channel.New(conn, channel.Options{
		ReadBufferSize:   cfg.Channel.ReadBufferKB * 1024,
		Inbound:          cfg.Channel.InboundQueue,
		MaxFrameSize:     cfg.Channel.MaxFrameMB << 20,
		AsyncDescriptors: cfg.Channel.AsyncDescriptors,
	})
	defer ch.Close()
	d := dispatch.New(ch, zap.L())
	ch.Start()
	go d.Run(ctx)

	reg := codec.NewRegistry()
	req := ipc.NewMessage(echoRouting, pingType)
	req.SetName("ping")
	body := map[string]any{"text": *message, "sent_at": time.Now().Format(time.RFC3339Nano)}
	if err := codec.EncodeBody(reg, req, codec.FormatJSON, body); err != nil {
		zap.L().Error("encode body failed", zap.Error(err))
		return 1
	}

	start := time.Now()
	reply, err := d.SendSync(ctx, req)
	if err != nil {
		zap.L().Error("ping failed", zap.Error(err))
		return 1
	}
	var got map[string]any
	if _, err := codec.DecodeBody(reg, reply, &got); err != nil {
		zap.L().Error("decode reply failed", zap.Error(err))
		return 1
	}
	fmt.Printf("reply seqno=%d rtt=%s text=%v\n", reply.Seqno(), time.Since(start), got["text"])
	return 0
}
