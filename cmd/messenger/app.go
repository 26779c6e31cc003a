package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/devricklin/feishu-messenger/internal/biz"
	"github.com/devricklin/feishu-messenger/internal/conf"
	"github.com/devricklin/feishu-messenger/internal/data"
	"github.com/devricklin/feishu-messenger/internal/infra/feishu"
	"github.com/devricklin/feishu-messenger/internal/infra/rabbitmq"
	"github.com/devricklin/feishu-messenger/internal/logger"
	"github.com/devricklin/feishu-messenger/internal/pipeline"
	"github.com/devricklin/feishu-messenger/internal/server"
	"github.com/devricklin/feishu-messenger/internal/service"
)

// app holds the wired components shared by all subcommands
type app struct {
	cfg       *conf.Config
	log       zerolog.Logger
	repos     *data.Repositories
	commands  *service.CommandService
	messenger *server.Messenger
	publisher *rabbitmq.Publisher
	stopFwd   func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := conf.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.Env)

	repos, err := data.NewRepositories(ctx, cfg.DBDriver, cfg.DBPath, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open repositories: %w", err)
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("repositories ready")

	var opts []feishu.Option
	if cfg.FeishuBaseURL != "" {
		opts = append(opts, feishu.WithBaseURL(cfg.FeishuBaseURL))
	}
	client := feishu.NewClient(cfg.FeishuAppID, cfg.FeishuAppSecret, log, opts...)

	usecases := biz.NewUsecases(repos.Chat, repos.User, repos.Message)
	reconciler := pipeline.NewReconciler(repos.Chat, repos.User, repos.Message)
	input := pipeline.NewInputProcessor(reconciler, log)
	output := pipeline.NewOutputProcessor(client, repos.Chat, repos.User, reconciler, log,
		pipeline.WithOutputConfig(cfg.ToOutputConfig()))
	commands := service.NewCommandService(log)

	messenger := server.NewMessenger(client, input, output, log, server.Options{
		Saver:    usecases.MessageSaver,
		Commands: commands,
		BotName:  cfg.FeishuBotName,
	})

	a := &app{
		cfg:       cfg,
		log:       log,
		repos:     repos,
		commands:  commands,
		messenger: messenger,
	}

	if cfg.AMQPURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			repos.Close()
			return nil, err
		}
		a.publisher = pub
		a.stopFwd = a.messenger.ForwardEvents(pub)
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("event export enabled")
	}

	return a, nil
}

// drain waits for queued work to finish
func (a *app) drain() {
	a.commands.Wait()
	a.messenger.Wait()
}

func (a *app) Close() {
	if a.stopFwd != nil {
		a.stopFwd()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close publisher")
		}
	}
	if err := a.repos.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close repositories")
	}
}
