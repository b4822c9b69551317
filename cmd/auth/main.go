package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"go.uber.org/zap"

	"go-user-directory/internal/app"
	"go-user-directory/internal/transport/rpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := app.Boot(ctx, "auth")
	if err != nil {
		log.Fatalf("auth service boot: %v", err)
	}
	defer inf.Close()

	authSvc := inf.Auth(inf.Users(), inf.Passwords())

	rpcs := rpc.NewRouter(inf.Log)
	rpc.MountAuth(rpcs, authSvc)

	if err := inf.Serve(ctx, rpcs, authSvc, rpc.AuthHealthMessage); err != nil {
		inf.Log.Error("auth service failed", zap.Error(err))
		inf.Close()
		log.Fatal(err)
	}
}
