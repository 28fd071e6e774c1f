package main

import (
	"fmt"
	"os"

	"github.com/relabs-tech/pid_testboard/internal/app"
	"github.com/relabs-tech/pid_testboard/internal/config"
	"github.com/relabs-tech/pid_testboard/internal/logging"
)

func main() {
	if err := config.InitGlobal("testboard_config.txt"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(config.Get().LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting pid testboard console (MQTT subscriber)")
	if err := app.RunConsoleMQTT(log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
