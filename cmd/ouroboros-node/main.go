// Command ouroboros-node is a thin example node: it dials or accepts a
// single peer, drives it through the behavior/manager stack, and logs
// every event it surfaces. It exists to exercise pkg/session end to
// end, not as a production relay.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/ouroboros-go/relay/pkg/behavior"
	"github.com/ouroboros-go/relay/pkg/logging"
	"github.com/ouroboros-go/relay/pkg/manager"
	"github.com/ouroboros-go/relay/pkg/metrics"
	"github.com/ouroboros-go/relay/pkg/ouroconfig"
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/keepalive"
	"github.com/ouroboros-go/relay/pkg/session"
)

var (
	configFlag = cli.StringFlag{Name: "config, c", Usage: "path to node YAML config"}
	debugFlag  = cli.BoolFlag{Name: "debug", Usage: "enable debug logging"}
	metricsFlag = cli.StringFlag{Name: "metrics-addr", Value: "", Usage: "address to serve Prometheus metrics on, empty disables"}
)

func main() {
	app := cli.NewApp()
	app.Name = "ouroboros-node"
	app.Usage = "dial or accept a single Ouroboros peer"
	app.Commands = []cli.Command{
		{
			Name:      "dial",
			Usage:     "connect to a peer as initiator",
			ArgsUsage: "host:port",
			Flags:     []cli.Flag{configFlag, debugFlag, metricsFlag},
			Action:    runDial,
		},
		{
			Name:   "listen",
			Usage:  "accept inbound peers as responder",
			Flags:  []cli.Flag{configFlag, debugFlag, metricsFlag},
			Action: runListen,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (ouroconfig.NodeConfiguration, error) {
	path := c.String("config")
	if path == "" {
		return ouroconfig.Default(), nil
	}
	return ouroconfig.Load(path)
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	return logging.New(c.Bool("debug"))
}

func serveMetrics(addr string, log *zap.Logger) *metrics.Collectors {
	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(reg)
	if addr == "" {
		return collectors
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return collectors
}

func parsePeerArg(arg string) (protocol.PeerID, error) {
	host, portStr, err := net.SplitHostPort(arg)
	if err != nil {
		return protocol.PeerID{}, fmt.Errorf("expected host:port, got %q: %w", arg, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return protocol.PeerID{}, fmt.Errorf("invalid port in %q: %w", arg, err)
	}
	return protocol.NewPeerID(host, uint16(port)), nil
}

func runDial(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("dial requires exactly one host:port argument", 1)
	}
	peer, err := parsePeerArg(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, err := newLogger(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer log.Sync()

	collectors := serveMetrics(c.String("metrics-addr"), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := session.DialInitiator(ctx, cfg, peer, log)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("dial %s: %w", peer, err), 1)
	}
	defer sess.Close()

	limits := behavior.PromotionLimits{
		MaxPeers:     cfg.Promotion.MaxPeers,
		MaxWarmPeers: cfg.Promotion.MaxWarmPeers,
		MaxHotPeers:  cfg.Promotion.MaxHotPeers,
	}
	b := behavior.NewInitiatorBehavior(limits)
	m := manager.NewInitiatorManager(sess, b, log)

	if err := m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdIncludePeer, Peer: peer}); err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdStartSync, Points: []protocol.Point{protocol.NewOriginPoint()}}); err != nil {
		return cli.NewExitError(err, 1)
	}

	go runHousekeeping(ctx, m, b, collectors, log)
	go runKeepAlive(ctx, sess, cfg.KeepAliveInterval, log)

	for {
		evt, err := m.PollNext(ctx)
		if err != nil {
			log.Info("initiator manager stopped", zap.Error(err))
			return nil
		}
		logExternalEvent(log, peer, evt)
		if evt.Kind == behavior.EvIntersectionFound {
			if err := m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdContinueSync, Peer: peer}); err != nil {
				log.Warn("submit ContinueSync failed", zap.Error(err))
			}
		}
		if evt.Kind == behavior.EvBlockHeaderReceived || evt.Kind == behavior.EvRollbackReceived {
			if err := m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdContinueSync, Peer: evt.Peer}); err != nil {
				log.Warn("submit ContinueSync failed", zap.Error(err))
			}
		}
	}
}

func runHousekeeping(ctx context.Context, m *manager.InitiatorManager, b *behavior.InitiatorBehavior, collectors *metrics.Collectors, log *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdHousekeeping}); err != nil {
				return
			}
			cold, warm, hot, banned := b.TierSizes()
			collectors.UpdatePeerTierMetric("cold", cold)
			collectors.UpdatePeerTierMetric("warm", warm)
			collectors.UpdatePeerTierMetric("hot", hot)
			collectors.BannedPeers.Set(float64(banned))
		}
	}
}

func runKeepAlive(ctx context.Context, sess *session.InitiatorSession, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var cookie keepalive.Cookie
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cookie++
			if err := sess.SendKeepAlive(ctx, cookie); err != nil {
				log.Warn("keep-alive send failed", zap.Error(err))
			}
		}
	}
}

func logExternalEvent(log *zap.Logger, peer protocol.PeerID, evt behavior.ExternalEvent) {
	switch evt.Kind {
	case behavior.EvPeerInitialized:
		log.Info("peer initialized", zap.String("peer", peer.String()), zap.Uint64("version", evt.Version))
	case behavior.EvIntersectionFound:
		log.Info("intersection found", zap.String("point", evt.Point.String()))
	case behavior.EvBlockHeaderReceived:
		log.Info("header received", zap.Int("bytes", len(evt.Header)))
	case behavior.EvRollbackReceived:
		log.Info("rollback", zap.String("point", evt.Point.String()))
	case behavior.EvBlockBodyReceived:
		log.Info("body received", zap.Int("bytes", len(evt.Body)))
	case behavior.EvTxRequested:
		log.Info("transactions requested", zap.Int("count", len(evt.IDs)))
	}
}

func runListen(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, err := newLogger(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer log.Sync()

	collectors := serveMetrics(c.String("metrics-addr"), log)

	ln, err := session.Listen(cfg, log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer ln.Close()

	log.Info("listening", zap.String("addr", cfg.ListenAddr))

	ctx := context.Background()
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			log.Warn("accept stopped", zap.Error(err))
			return nil
		}
		go serveResponder(ctx, sess, collectors, log)
	}
}

func serveResponder(ctx context.Context, sess *session.ResponderSession, collectors *metrics.Collectors, log *zap.Logger) {
	defer sess.Close()
	b := behavior.NewResponderBehavior()
	m := manager.NewResponderManager(sess, b, log)

	for {
		evt, err := m.PollNext(ctx)
		if err != nil {
			log.Info("responder manager stopped", zap.String("peer", sess.Peer().String()), zap.Error(err))
			return
		}
		answerResponderEvent(ctx, m, evt, log)
	}
}

// answerResponderEvent applies the simplest honest answer a node
// without any chain state can give: intersection never found, no
// headers or blocks available, an empty peer-sharing reply. A relay
// backed by real chain state would substitute its own lookups here.
func answerResponderEvent(ctx context.Context, m *manager.ResponderManager, evt behavior.ResponderEvent, log *zap.Logger) {
	var cmd behavior.ResponderCommand
	switch evt.Kind {
	case behavior.EvIntersectionRequested:
		cmd = behavior.ResponderCommand{Kind: behavior.CmdProvideIntersection, Peer: evt.Peer, Found: false}
	case behavior.EvNextHeaderRequested:
		log.Debug("no chain state to serve next header", zap.String("peer", evt.Peer.String()))
		return
	case behavior.EvBlockRangeRequested:
		cmd = behavior.ResponderCommand{Kind: behavior.CmdProvideBlocks, Peer: evt.Peer}
	case behavior.EvPeersRequested:
		cmd = behavior.ResponderCommand{Kind: behavior.CmdProvidePeers, Peer: evt.Peer}
	default:
		return
	}
	if err := m.Submit(ctx, cmd); err != nil {
		log.Warn("submit responder answer failed", zap.Error(err))
	}
}
