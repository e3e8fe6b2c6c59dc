package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consultchat/api"
	"consultchat/config"
	"consultchat/logger"
	"consultchat/module/chat/service"
	"consultchat/module/chat/store"
	"consultchat/module/notify"
	wsgate "consultchat/service/chat"
	"consultchat/service/fabric"
	"consultchat/service/mgo"
	"consultchat/service/presence"
	rds "consultchat/service/storage/redis"
	"consultchat/tools/ids"
	"consultchat/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	ids.SetNodeID(cfg.NodeID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mongoCli, err := mgo.New(ctx, cfg.Mongo)
	if err != nil {
		logger.Errorf("mongo: %v", err)
		os.Exit(1)
	}
	db := mongoCli.DB()

	rdb, err := rds.New(cfg.Redis)
	if err != nil {
		logger.Errorf("redis: %v", err)
		os.Exit(1)
	}

	local := fabric.NewLocal()
	var fab fabric.Fabric = local
	if cfg.Nats.URL != "" {
		bridge, err := fabric.NewBridge(cfg.Nats, local)
		if err != nil {
			logger.Errorf("nats: %v", err)
			os.Exit(1)
		}
		fab = bridge
	}

	presenceStore := presence.NewStore(rdb, cfg.PresenceTTL)

	convStore := store.NewConversationStore(db)
	msgStore := store.NewMessageStore(db)
	inboxStore := store.NewUserConversationStore(db)
	userStore := store.NewUserStore(db)
	markStore := store.NewProjectionMarkStore(db)
	deviceStore := store.NewDeviceStore(db)

	projector := service.NewProjector(inboxStore, markStore)
	chatSvc := service.NewChatService(convStore, msgStore, inboxStore, userStore, projector)

	dispatcher := notify.NewDispatcher(deviceStore, buildFCM(ctx, cfg.Push), buildAPNS(cfg.Push))

	jwtOpts := security.DefaultOptions([]byte(cfg.JWT.Secret))

	registry := wsgate.NewRegistry(presenceStore, fab)
	gateway := wsgate.NewGateway(chatSvc, presenceStore, fab, registry, dispatcher, jwtOpts)
	restSrv := api.NewServer(chatSvc, deviceStore, userStore, jwtOpts)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	gateway.RegisterRoutes(router)
	restSrv.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Infof("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := fab.Close(); err != nil {
		logger.Warnf("fabric close: %v", err)
	}
	if err := rdb.Close(); err != nil {
		logger.Warnf("redis close: %v", err)
	}
	if err := mongoCli.Close(shutdownCtx); err != nil {
		logger.Warnf("mongo close: %v", err)
	}
}

// buildFCM returns nil when firebase credentials are not configured; the
// dispatcher then skips android/web pushes.
func buildFCM(ctx context.Context, cfg config.PushConfig) notify.Provider {
	if cfg.FirebaseCredentialsFile == "" {
		logger.Warnf("FIREBASE_CREDENTIALS_FILE unset, fcm push disabled")
		return nil
	}
	p, err := notify.NewFCMProvider(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		logger.Errorf("fcm init: %v", err)
		os.Exit(1)
	}
	return p
}

func buildAPNS(cfg config.PushConfig) notify.Provider {
	if cfg.APNSAuthKeyFile == "" {
		logger.Warnf("APNS_AUTH_KEY_FILE unset, apns push disabled")
		return nil
	}
	p, err := notify.NewAPNSProvider(cfg.APNSAuthKeyFile, cfg.APNSKeyID, cfg.APNSTeamID, cfg.APNSTopic, cfg.APNSSandbox)
	if err != nil {
		logger.Errorf("apns init: %v", err)
		os.Exit(1)
	}
	return p
}
