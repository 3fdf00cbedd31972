// Command promptly is a terminal client for the promptly chat API. Replies are
// streamed from Gemini locally and each completed turn is saved to the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"promptly-backend/internal/client"
	"promptly-backend/internal/services"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "promptly",
	Short:         "Chat with Gemini and keep your conversations on a promptly server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.promptly.yaml)")
	flags.String("api-url", "http://localhost:3000", "promptly server URL")
	flags.String("token", "", "identity token sent as a bearer credential")
	flags.String("gemini-api-key", "", "Gemini API key")
	flags.String("model", services.DefaultGeminiModel, "Gemini model name")
	flags.BoolP("verbose", "v", false, "verbose logging")

	for _, key := range []string{"api-url", "token", "gemini-api-key", "model", "verbose"} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".promptly")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("PROMPTLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			color.New(color.FgYellow).Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
}

func apiClient() *client.Client {
	return client.New(viper.GetString("api-url"), viper.GetString("token"))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func requireSetting(key string) (string, error) {
	v := viper.GetString(key)
	if v == "" {
		return "", fmt.Errorf("%s is not set (flag --%s or PROMPTLY_%s)", key, key, strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
	}
	return v, nil
}
