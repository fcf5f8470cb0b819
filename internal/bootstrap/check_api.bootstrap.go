package bootstrap

import (
	"context"
	"os"

	"github.com/krobus00/grid-bot/internal/service/exchange"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const minAPIKeyLength = 10

// StartCheckAPI validates the configured Bybit credentials. With
// --skip-real only the key shape is checked, which is what CI runs
// against the committed example file. Without it both networks are probed
// and the process exits zero when at least one accepts the keys.
func StartCheckAPI(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	envPath, _ := cmd.Flags().GetString("env")
	skipReal, _ := cmd.Flags().GetBool("skip-real")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	apiKey, apiSecret, err := loadKeysFromEnvFile(envPath)
	if err != nil {
		logrus.Errorf("failed to read %s: %v", envPath, err)
		os.Exit(1)
	}

	if apiKey == "" || apiSecret == "" {
		logrus.Errorf("api keys not found in %s", envPath)
		os.Exit(1)
	}

	if len(apiKey) < minAPIKeyLength || len(apiSecret) < minAPIKeyLength {
		logrus.Error("api keys have an invalid format")
		os.Exit(1)
	}

	logrus.Infof("api keys found in %s", envPath)

	if skipReal {
		logrus.Info("real network check skipped (--skip-real)")
		os.Exit(0)
	}

	validTestnet, messageTestnet := exchange.NewBybitClient(apiKey, apiSecret, exchange.BybitTestnetBaseURL).ValidateCredentials(ctx)
	logrus.WithField("valid", validTestnet).Infof("testnet: %s", messageTestnet)

	validMainnet, messageMainnet := exchange.NewBybitClient(apiKey, apiSecret, exchange.BybitMainnetBaseURL).ValidateCredentials(ctx)
	logrus.WithField("valid", validMainnet).Infof("mainnet: %s", messageMainnet)

	if validTestnet || validMainnet {
		os.Exit(0)
	}

	os.Exit(1)
}

// loadKeysFromEnvFile reads BYBIT_API_KEY and BYBIT_API_SECRET from an
// .env style file. Process environment variables of the same name win
// over file values.
func loadKeysFromEnvFile(path string) (apiKey, apiSecret string, err error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	if _, statErr := os.Stat(path); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return "", "", err
		}
	}

	apiKey = v.GetString("BYBIT_API_KEY")
	apiSecret = v.GetString("BYBIT_API_SECRET")

	if fromEnv := os.Getenv("BYBIT_API_KEY"); fromEnv != "" {
		apiKey = fromEnv
	}
	if fromEnv := os.Getenv("BYBIT_API_SECRET"); fromEnv != "" {
		apiSecret = fromEnv
	}

	return apiKey, apiSecret, nil
}
