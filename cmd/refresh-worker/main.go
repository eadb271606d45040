package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/pulseboard/pulseboard/refreshworker"
)

func main() {
	if err := refreshworker.Run(); err != nil {
		log.Error().Err(err).Msg("refresh-worker exited with error")
		os.Exit(1)
	}
}
