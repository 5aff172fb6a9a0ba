package main

import (
	"github.com/beam-cloud/mailsync/pkg/gateway"
	"github.com/rs/zerolog/log"
)

func main() {
	gw, err := gateway.NewGateway()
	if err != nil {
		log.Fatal().Err(err).Msg("error creating gateway service")
	}

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway failed")
	}
}
