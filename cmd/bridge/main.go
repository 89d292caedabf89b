// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs two middleware round trips over a configured transport:
//
//  1. pub/sub: a publisher sends serialized messages, a subscription queues
//     them and a waiting taker drains them in order
//  2. request/reply: a client sends sequence-numbered requests, a service
//     takes them, correlates and responds
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/takasehideki/rmw-zenoh/config"
	"github.com/takasehideki/rmw-zenoh/rmw"
	"github.com/takasehideki/rmw-zenoh/server/otel"
	"github.com/takasehideki/rmw-zenoh/transport"
	"github.com/takasehideki/rmw-zenoh/transport/inproc"
	"github.com/takasehideki/rmw-zenoh/transport/mqttbind"
	"github.com/takasehideki/rmw-zenoh/typesupport"
	"github.com/takasehideki/rmw-zenoh/wait"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("Starting middleware bridge",
		"transport", cfg.Transport.Type,
		"subscription_depth", cfg.Entities.SubscriptionQueueDepth,
		"log_level", cfg.Log.Level)

	var metrics *otel.Metrics
	if cfg.Metrics.Enabled {
		shutdown, err := otel.InitProvider(cfg.Metrics, uuid.NewString())
		if err != nil {
			slog.Error("Failed to initialize metrics provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("Metrics shutdown failed", "error", err)
			}
		}()

		metrics, err = otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metric instruments", "error", err)
			os.Exit(1)
		}
		slog.Info("Metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	var tr transport.Transport
	switch cfg.Transport.Type {
	case "inproc":
		tr = inproc.New()
		slog.Info("Using in-process transport")
	case "mqtt":
		mt, err := mqttbind.Connect(cfg.Transport)
		if err != nil {
			slog.Error("Failed to connect MQTT transport", "error", err, "addr", cfg.Transport.MQTTAddr)
			os.Exit(1)
		}
		tr = mt
		slog.Info("Using MQTT transport", "addr", cfg.Transport.MQTTAddr)
	default:
		slog.Error("Unknown transport type", "type", cfg.Transport.Type)
		os.Exit(1)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := pubSubRoundTrip(ctx, tr, cfg, metrics); err != nil {
		slog.Error("Pub/sub round trip failed", "error", err)
		os.Exit(1)
	}
	if err := requestReplyRoundTrip(ctx, tr, cfg, metrics); err != nil {
		slog.Error("Request/reply round trip failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Middleware bridge finished")
}

func pubSubRoundTrip(ctx context.Context, tr transport.Transport, cfg *config.Config, metrics *otel.Metrics) error {
	const (
		keyExpr = "demo/chatter"
		count   = 5
	)

	sub, err := rmw.NewSubscription(tr, keyExpr, rmw.Options{
		QueueDepth:       cfg.Entities.SubscriptionQueueDepth,
		EventStatusDepth: cfg.Entities.EventQueueDepth,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("declare subscription: %w", err)
	}
	defer sub.Close()

	pub, err := rmw.NewPublisher(tr, keyExpr, rmw.Options{
		EventStatusDepth: cfg.Entities.EventQueueDepth,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("declare publisher: %w", err)
	}
	defer pub.Close()

	ts := &typesupport.ProtoTypeSupport{}
	for i := 1; i <= count; i++ {
		data, err := ts.Serialize(wrapperspb.String(fmt.Sprintf("hello %d", i)))
		if err != nil {
			return fmt.Errorf("serialize message %d: %w", i, err)
		}
		if err := pub.Publish(data); err != nil {
			return fmt.Errorf("publish message %d: %w", i, err)
		}
	}
	slog.Info("Published messages", "key_expr", keyExpr, "count", count)

	set := wait.NewSet()
	taken := 0
	for taken < count {
		waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
		ready, err := set.Wait(waitCtx, sub)
		waitCancel()
		if err != nil {
			return fmt.Errorf("wait for messages: %w", err)
		}
		if len(ready) == 0 {
			continue
		}
		for {
			msg, ok := sub.PopNextMessage()
			if !ok {
				break
			}
			var text wrapperspb.StringValue
			if err := ts.Deserialize(msg.Bytes(), &text); err != nil {
				msg.Release()
				return fmt.Errorf("deserialize message: %w", err)
			}
			slog.Info("Took message", "key_expr", keyExpr, "text", text.GetValue())
			msg.Release()
			taken++
		}
	}
	return nil
}

func requestReplyRoundTrip(ctx context.Context, tr transport.Transport, cfg *config.Config, metrics *otel.Metrics) error {
	const (
		keyExpr = "demo/echo"
		count   = 3
	)

	svc, err := rmw.NewService(tr, keyExpr, rmw.Options{
		QueueDepth:       cfg.Entities.ServiceQueueDepth,
		EventStatusDepth: cfg.Entities.EventQueueDepth,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("declare service: %w", err)
	}
	defer svc.Close()

	cl, err := rmw.NewClient(tr, keyExpr, rmw.Options{
		QueueDepth:       cfg.Entities.ClientQueueDepth,
		EventStatusDepth: cfg.Entities.EventQueueDepth,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("declare client: %w", err)
	}
	defer cl.Close()

	// Echo responder: take each request, answer with its own payload.
	respCtx, respCancel := context.WithCancel(ctx)
	defer respCancel()
	go func() {
		set := wait.NewSet()
		for {
			if _, err := set.Wait(respCtx, svc); err != nil {
				return
			}
			for {
				req, ok, err := svc.TakeRequest()
				if err != nil {
					slog.Error("Failed to take request", "error", err)
					return
				}
				if !ok {
					break
				}
				seq := req.SequenceNumber()
				if err := svc.Respond(seq, req.Bytes()); err != nil {
					slog.Error("Failed to respond", "sequence_number", seq, "error", err)
				}
			}
		}
	}()

	sent := make(map[int64]string, count)
	for i := 1; i <= count; i++ {
		body := fmt.Sprintf("ping %d", i)
		seq, err := cl.SendRequest([]byte(body))
		if err != nil {
			return fmt.Errorf("send request %d: %w", i, err)
		}
		sent[seq] = body
		slog.Info("Sent request", "key_expr", keyExpr, "sequence_number", seq)
	}

	set := wait.NewSet()
	for received := 0; received < count; {
		waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := set.Wait(waitCtx, cl)
		waitCancel()
		if err != nil {
			return fmt.Errorf("wait for replies: %w", err)
		}
		for {
			rep, ok := cl.PopNextReply()
			if !ok {
				break
			}
			seq := rep.SequenceNumber()
			want, known := sent[seq]
			if !known {
				rep.Release()
				return fmt.Errorf("reply for unknown sequence number %d", seq)
			}
			if got := string(rep.Bytes()); got != want {
				rep.Release()
				return errors.New("reply payload does not match request")
			}
			slog.Info("Took reply", "key_expr", keyExpr, "sequence_number", seq)
			rep.Release()
			received++
		}
	}
	return nil
}
