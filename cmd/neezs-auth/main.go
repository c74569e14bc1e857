package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yokthanwa1993/neezs-app-sub000/internal"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

var BuildVersion = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("neezs-auth %s\n", BuildVersion)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.LogError("Configuration error: %v", err)
		os.Exit(1)
	}

	app, err := internal.NewApp(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to build application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Application error: %v", err)
		os.Exit(1)
	}
}
