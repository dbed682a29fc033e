package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cravvr/config"
	"cravvr/internal/apiclient"
	"cravvr/internal/kitchen"
	"cravvr/internal/realtime"
	"cravvr/internal/redisclient"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "kitchen"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if cfg.Kitchen.APIToken == "" {
		logger.Fatal("KITCHEN_API_TOKEN is required")
	}
	if len(cfg.Kitchen.TruckIDs) == 0 {
		logger.Fatal("KITCHEN_TRUCK_IDS is required")
	}
	truckID, err := uuid.Parse(cfg.Kitchen.TruckIDs[0])
	if err != nil {
		logger.Fatal("Invalid truck id", zap.String("truck_id", cfg.Kitchen.TruckIDs[0]), zap.Error(err))
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	client := apiclient.New(cfg.Kitchen.APIBaseURL, cfg.Kitchen.APIToken, kitchen.ActionTimeout)
	hub := realtime.NewHub(redisClient.GetClient())

	changed := make(chan struct{}, 1)
	cue := make(chan struct{}, 1)
	feed := kitchen.NewFeed(client, hub, kitchen.FeedHooks{
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
		OnNewOrder: func() {
			select {
			case cue <- struct{}{}:
			default:
			}
		},
	})
	display := kitchen.NewDisplay(feed, client)
	defer display.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := display.SelectTruck(ctx, truckID); err != nil {
		logger.Fatal("Failed to open kitchen feed", zap.Error(err))
	}

	cons := newConsole(display, os.Stdout)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(kitchen.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			case <-changed:
			case <-cue:
				cons.bell()
			}
			cons.render(time.Now())
		}
	})

	g.Go(func() error {
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if err := cons.execute(gctx, line); err != nil {
					if errors.Is(err, errQuit) {
						stop()
						return nil
					}
					cons.printError(err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Kitchen display exited with error", zap.Error(err))
	}
	logger.Info("Kitchen display stopped")
}
