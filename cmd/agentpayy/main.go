package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/AgentPayy/AgentPayy-sub002/cmd/agentpayy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("agentpayy exited with error")
		os.Exit(1)
	}
}
