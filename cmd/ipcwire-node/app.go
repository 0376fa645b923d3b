package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"ipcwire/pkg/channel"
	"ipcwire/pkg/config"
	"ipcwire/pkg/dispatch"
	"ipcwire/pkg/ipc"
	"ipcwire/pkg/ipc/codec"
	"ipcwire/pkg/observability"
)

// echoRouting is the endpoint id the node answers on; ipcwire-ping sends
// its requests there.
const echoRouting int32 = 1

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
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

	zap.L().Info("ipcwire-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	ep, err := channel.ByKind(cfg.Channel.Kind)
	if err != nil {
		zap.L().Error("bad channel kind", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := ep.Listen(ctx, cfg.Channel.Address)
	if err != nil {
		zap.L().Error("listen failed", zap.Error(err))
		return 1
	}
	defer l.Close()
	zap.L().Info("listening", zap.String("kind", cfg.Channel.Kind), zap.String("addr", l.Addr().String()))

	reg := codec.NewRegistry()
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			zap.L().Error("accept failed", zap.Error(err))
			return 1
		}
		ch := channel.New(conn, channel.Options{
			ReadBufferSize:   cfg.Channel.ReadBufferKB * 1024,
			Inbound:          cfg.Channel.InboundQueue,
			MaxFrameSize:     cfg.Channel.MaxFrameMB << 20,
			AsyncDescriptors: cfg.Channel.AsyncDescriptors,
		})
		d := dispatch.New(ch, zap.L())
		d.Handle(echoRouting, func(m *ipc.Message) {
			var body map[string]any
			if _, err := codec.DecodeBody(reg, m, &body); err != nil {
				zap.L().Warn("undecodable request body", zap.Error(err))
				if m.IsSync() {
					_ = ch.Send(ipc.ReplyErrorTo(m))
				}
				return
			}
			zap.L().Debug("echo request",
				zap.Int32("seqno", m.Seqno()), zap.Any("body", body))
			if !m.IsSync() {
				return
			}
			reply := ipc.ReplyTo(m)
			if err := codec.EncodeBody(reg, reply, codec.FormatJSON, body); err != nil {
				zap.L().Warn("encode reply failed", zap.Error(err))
				return
			}
			if err := ch.Send(reply); err != nil {
				zap.L().Warn("send reply failed", zap.Error(err))
			}
		})
		ch.Start()
		go d.Run(ctx)
	}
}
