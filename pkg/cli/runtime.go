package cli

import (
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/gateway"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

func loadConfig() (types.AppConfig, error) {
	cm, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return types.AppConfig{}, err
	}

	// --config wins over CONFIG_PATH; env still overrides both
	if configPath != "" {
		if err := cm.LoadFile(configPath); err != nil {
			return types.AppConfig{}, err
		}
		if err := cm.LoadEnv(); err != nil {
			return types.AppConfig{}, err
		}
	}

	config := cm.GetConfig()
	gateway.ConfigureLogging(config)
	return config, nil
}

// openServices connects the configured backends and builds the same object
// graph the gateway runs. Release with closeServices.
func openServices() (*gateway.Services, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}

	backend, rdb, err := gateway.OpenBackends(config, "MailsyncCLI")
	if err != nil {
		return nil, err
	}

	services, err := gateway.NewServices(config, backend, rdb)
	if err != nil {
		closeBackends(backend, rdb)
		return nil, err
	}
	return services, nil
}

func closeServices(s *gateway.Services) {
	closeBackends(s.Backend, s.RedisClient)
}

func closeBackends(backend repository.BackendRepository, rdb *common.RedisClient) {
	if err := backend.Close(); err != nil {
		log.Debug().Err(err).Msg("close backend")
	}
	if rdb != nil {
		rdb.Close()
	}
}
