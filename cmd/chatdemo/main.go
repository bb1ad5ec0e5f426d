package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/chat"
	"github.com/motormart/motormart-chat/internal/config"
	"github.com/motormart/motormart-chat/internal/transport"
)

// chatdemo drives the engine the way the front end does: load the
// conversation list, open a thread, send a message, then watch the
// delivery states and the counterparty typing pulse tick over.
func main() {
	cfg := config.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var tr transport.Transport
	switch cfg.TransportMode {
	case config.ModeWS:
		tr = transport.NewWSClient(cfg.BrokerURL, cfg.LocalUserID, cfg.ReconnectBackoff, cfg.MaxReconnects, logger)
	default:
		tr = transport.NewSimulator(logger)
	}
	if err := tr.Connect(); err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer tr.Disconnect()

	sessionCfg := chat.SessionConfig{
		SimulateAcks:  cfg.TransportMode == config.ModeSim,
		DeliveryDelay: cfg.DeliveryDelay,
		ReadDelay:     cfg.ReadDelay,
	}
	if cfg.AutoReplyEnabled {
		sessionCfg.AutoReply = chat.NewAutoReply(cfg.AutoReplyProbability, cfg.AutoReplyTypingPulse, cfg.AutoReplyDelay)
	}

	store := chat.NewStore(cfg.LocalUserID, logger)
	typing := chat.NewTypingCoordinator(cfg.TypingExpiry)
	inbox, err := chat.NewInbox(
		chat.StaticIdentity(cfg.LocalUserID),
		chat.DemoCatalog(),
		store, typing, tr, sessionCfg, logger,
	)
	if err != nil {
		logger.Fatal("inbox load failed", zap.Error(err))
	}
	defer inbox.Close()

	convs := inbox.List()
	for _, c := range convs {
		fmt.Printf("%-8s %-16s %s\n", c.ID, c.PeerName, c.Listing)
	}

	session, err := inbox.Select(convs[0].ID)
	if err != nil {
		logger.Fatal("select failed", zap.Error(err))
	}
	if err := session.Open(); err != nil {
		logger.Fatal("open failed", zap.Error(err))
	}
	defer session.Close()

	if _, err := session.Send("Hi, is the Corolla still available?"); err != nil {
		logger.Fatal("send failed", zap.Error(err))
	}

	deadline := time.Now().Add(cfg.DeliveryDelay + cfg.ReadDelay + cfg.AutoReplyDelay + time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if session.PeerTyping() {
			fmt.Println("... peer is typing")
		}
	}

	for _, m := range session.Messages() {
		fmt.Printf("[%s] %s: %s\n", m.State, m.SenderID, m.Body)
	}
}
