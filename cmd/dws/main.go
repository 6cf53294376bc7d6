package main

import (
	"os"

	"github.com/godispatch/dws/cmd/dws/cmd"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Errorf("dws: %v", err)
		os.Exit(1)
	}
}
