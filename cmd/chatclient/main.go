// Package main implements the interactive chat client. It connects to the
// chat backend, delivers messages with retry and offline queueing, and
// prints server events as they arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/vzorr/chat-test-client-sub001/auth"
	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/connstate"
	"github.com/vzorr/chat-test-client-sub001/delivery"
	"github.com/vzorr/chat-test-client-sub001/message"
	"github.com/vzorr/chat-test-client-sub001/metric"
	"github.com/vzorr/chat-test-client-sub001/restapi"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "chatclient"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return nil
	}
	if cliCfg.UserID == "" || cliCfg.Token == "" {
		return fmt.Errorf("user id and token are required, pass -user and -token")
	}

	registry := metric.NewRegistry()
	if cliCfg.MetricsAddr != "" {
		startMetricsServer(cliCfg.MetricsAddr, registry, logger)
	}

	client, err := delivery.New(cfg,
		delivery.WithLogger(logger),
		delivery.WithMetrics(registry.CoreMetrics()))
	if err != nil {
		return err
	}
	defer client.Dispose()

	provider, err := auth.NewStatic(cliCfg.Token)
	if err != nil {
		return err
	}
	var api *restapi.Client
	if cfg.API.BaseURL != "" {
		api, err = restapi.New(cfg.API, provider, logger)
		if err != nil {
			return err
		}
	}

	printEvents(client)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Transport.ConnectTimeout.Std())
	err = client.Connect(connectCtx, cliCfg.UserID, cliCfg.Token)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("connected", "user_id", cliCfg.UserID, "url", cfg.Transport.URL)

	go inputLoop(client, api, stop)

	<-ctx.Done()
	logger.Info("shutting down")
	client.Disconnect()
	return nil
}

func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cliCfg.ConfigPath != "" {
		cfg, err = config.LoadFile(cliCfg.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
		cfg.ApplyEnvOverrides()
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	return cfg, cfg.Validate()
}

func startMetricsServer(addr string, registry *metric.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

// printEvents wires observer output to stdout
func printEvents(client *delivery.Client) {
	client.OnConnectionStateChange(func(ch connstate.Change) {
		fmt.Printf("* connection: %s -> %s\n", ch.From, ch.To)
	})
	client.OnNewMessage(func(in message.Inbound) {
		fmt.Printf("[%s] %s: %s\n", in.ConversationID, in.SenderID, in.Content)
	})
	client.OnMessageSent(func(ack message.Ack) {
		fmt.Printf("* delivered %s (server id %s)\n", ack.ClientTempID, ack.MessageID)
	})
	client.OnMessageFailed(func(m *message.Outbound) {
		fmt.Printf("* FAILED %s after %d attempts: %s\n", m.ClientTempID, m.Attempt, m.LastError)
	})
	client.OnTyping(func(ty message.Typing) {
		if ty.Typing {
			fmt.Printf("* %s is typing in %s\n", ty.UserID, ty.ConversationID)
		}
	})
	client.OnPresence(func(p message.Presence) {
		state := "offline"
		if p.Online {
			state = "online"
		}
		fmt.Printf("* %s is %s\n", p.UserID, state)
	})
}

func inputLoop(client *delivery.Client, api *restapi.Client, stop func()) {
	fmt.Println("commands: /send <conv> <text>, /typing <conv>, /join <conv>, /history <conv>, /conversations, /status, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			stop()
			return
		case "/status":
			st := client.Status()
			fmt.Printf("* state=%s pending=%d failed=%d retained=%d\n",
				st.State, st.Pending, st.Failed, st.SentRetained)
		case "/send":
			conv, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /send <conv> <text>")
				continue
			}
			msg := &message.Outbound{ConversationID: conv, Content: text}
			if err := client.Send(msg); err != nil {
				fmt.Printf("* send refused: %v\n", err)
				continue
			}
			fmt.Printf("* queued %s\n", msg.ClientTempID)
		case "/typing":
			if err := client.SendTyping(rest, true); err != nil {
				fmt.Printf("* typing failed: %v\n", err)
			}
		case "/join":
			if _, err := client.JoinConversation(rest); err != nil {
				fmt.Printf("* join failed: %v\n", err)
			} else {
				fmt.Printf("* joined %s\n", rest)
			}
		case "/conversations":
			if api == nil {
				fmt.Println("* no REST API configured")
				continue
			}
			convs, err := api.ListConversations(context.Background())
			if err != nil {
				fmt.Printf("* list failed: %v\n", err)
				continue
			}
			for _, conv := range convs {
				fmt.Printf("* %s (unread %d)\n", conv.ID, conv.UnreadCount)
			}
		case "/history":
			if api == nil {
				fmt.Println("* no REST API configured")
				continue
			}
			hist, err := api.GetMessages(context.Background(), rest, 1, 20)
			if err != nil {
				fmt.Printf("* history failed: %v\n", err)
				continue
			}
			for _, m := range hist.Messages {
				fmt.Printf("[%s] %s: %s\n", m.ConversationID, m.SenderID, m.Content)
			}
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}
