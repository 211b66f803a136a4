package main

import (
	"context"
	"log"
	"os"

	"github.com/audithero/velro-backend-sub001/internal/server"
	"github.com/audithero/velro-backend-sub001/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig(os.Args[1:])
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
