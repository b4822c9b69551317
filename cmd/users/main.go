package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"go.uber.org/zap"

	"go-user-directory/internal/app"
	"go-user-directory/internal/service"
	"go-user-directory/internal/transport/rpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := app.Boot(ctx, "user")
	if err != nil {
		log.Fatalf("user service boot: %v", err)
	}
	defer inf.Close()

	users := inf.Users()
	pw := inf.Passwords()
	svc := service.NewUserService(users, inf.Cache(), pw, inf.Log.Named("user"))
	svc.PasswordLength = inf.Cfg.Password.GeneratedLength

	rpcs := rpc.NewRouter(inf.Log)
	rpc.MountUsers(rpcs, svc)

	if err := inf.Serve(ctx, rpcs, inf.Auth(users, pw), rpc.UserHealthMessage); err != nil {
		inf.Log.Error("user service failed", zap.Error(err))
		inf.Close()
		log.Fatal(err)
	}
}
