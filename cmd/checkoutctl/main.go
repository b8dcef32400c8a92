// Command checkoutctl provisions a Commerce instance for the checkout extension and offers a few
// operational helpers around orders.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
	"github.com/hanko-field/commerce-checkout/internal/platform/config"
	"github.com/hanko-field/commerce-checkout/internal/platform/observability"
	"github.com/hanko-field/commerce-checkout/internal/provisioning"
)

var Version = "dev"

type app struct {
	envFile string
	cfg     config.Config
	logger  *zap.Logger
	client  *commerce.Client
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Provision and operate the Commerce checkout extension",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env", ".env", "dotenv file with Commerce credentials")

	rootCmd.AddCommand(a.taxIntegrationsCmd())
	rootCmd.AddCommand(a.paymentMethodsCmd())
	rootCmd.AddCommand(a.shippingCarriersCmd())
	rootCmd.AddCommand(a.commerceEventsCmd())
	rootCmd.AddCommand(a.oauthCmd())
	rootCmd.AddCommand(a.ordersCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) ensureLogger() (*zap.Logger, error) {
	if a.logger != nil {
		return a.logger, nil
	}
	logger, err := observability.NewLogger(observability.WithConsoleOutput())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a.logger = logger
	return logger, nil
}

// provisioner loads configuration and builds a Commerce client on first use.
func (a *app) provisioner(ctx context.Context) (*provisioning.Provisioner, error) {
	client, err := a.commerceClient(ctx)
	if err != nil {
		return nil, err
	}
	return provisioning.New(client, a.logger)
}

func (a *app) commerceClient(ctx context.Context) (*commerce.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	logger, err := a.ensureLogger()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ctx, config.WithEnvFile(a.envFile), config.WithCommandLineProfile())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	client, err := commerce.NewClient(ctx, commerce.Options{
		BaseURL:     cfg.Commerce.BaseURL,
		HTTPTimeout: cfg.Commerce.HTTPTimeout,
		Integration: cfg.Commerce.Integration,
		IMS:         cfg.Commerce.IMS,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	a.client = client
	return client, nil
}

func printJSON(cmd *cobra.Command, raw []byte) {
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
}
