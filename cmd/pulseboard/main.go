package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/pulseboard/pulseboard/statsservice"
)

func main() {
	if err := statsservice.Run(); err != nil {
		log.Error().Err(err).Msg("pulseboard exited with error")
		os.Exit(1)
	}
}
