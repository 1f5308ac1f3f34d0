package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"twitch-chat-bot/helix"
	"twitch-chat-bot/logging"
)

const usage = `usage:
  twitch-auth [--token-file path] app              получить и сохранить токен приложения
  twitch-auth [--token-file path] resolve <login>  узнать id пользователя Twitch`

func main() {
	tokenFile := pflag.String("token-file", envOr("TOKEN_FILE", helix.DefaultTokenFile), "файл для токена приложения")
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	clientID := strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID"))
	if clientID == "" {
		log.Fatal("TWITCH_CLIENT_ID is required")
	}

	clientSecret := strings.TrimSpace(os.Getenv("TWITCH_CLIENT_SECRET"))
	if clientSecret == "" {
		log.Fatal("TWITCH_CLIENT_SECRET is required")
	}

	store := helix.FileTokenStore{Path: *tokenFile}
	manager := helix.NewAppTokenManager(store, helix.ClientCredentials(nil, "", clientID, clientSecret))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "app":
		token, err := manager.Get(ctx)
		if err != nil {
			log.Fatalf("get app token: %v", err)
		}
		fmt.Printf("ok, expires at %s\n", token.ExpiresAt.Format(time.RFC3339))

	case "resolve":
		if len(args) != 2 {
			pflag.Usage()
			os.Exit(1)
		}
		client := helix.NewClient(helix.Config{ClientID: clientID}, manager, logging.Nop())
		id, err := client.ResolveUserID(ctx, args[1])
		if err != nil {
			log.Fatalf("resolve %s: %v", args[1], err)
		}
		fmt.Println(id)

	default:
		pflag.Usage()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
