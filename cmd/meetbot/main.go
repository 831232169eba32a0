package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/m3rciful/meetbot/bot"
	"github.com/m3rciful/meetbot/core/cmd"
)

func main() {
	_ = godotenv.Load()

	err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (cmd.ConfigCarrier, error) {
			return bot.LoadConfig(path)
		},
		Bootstrap: func(cfg cmd.ConfigCarrier) (cmd.TelegramApp, error) {
			return bot.New(cfg.(*bot.Config))
		},
	})
	if err != nil {
		log.Fatalf("meetbot: %v", err)
	}
}
