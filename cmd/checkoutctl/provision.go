package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hanko-field/commerce-checkout/internal/provisioning"
)

func (a *app) taxIntegrationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tax-integrations", Short: "Manage out-of-process tax integrations"}

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the tax integrations declared in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc provisioning.TaxIntegrationsFile
			if err := provisioning.LoadYAML(file, &doc); err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			created := p.CreateTaxIntegrations(cmd.Context(), doc)
			fmt.Fprintf(cmd.OutOrStdout(), "created tax integrations: %s\n", strings.Join(created, ", "))
			return nil
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "tax-integrations.yaml", "tax integrations YAML file")

	cmd.AddCommand(create, a.listCmd("list", "List tax integrations", func(cmd *cobra.Command) ([]byte, error) {
		client, err := a.commerceClient(cmd.Context())
		if err != nil {
			return nil, err
		}
		return client.ListTaxIntegrations(cmd.Context())
	}))
	return cmd
}

func (a *app) paymentMethodsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payment-methods", Short: "Manage out-of-process payment methods"}

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the payment methods declared in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc provisioning.PaymentMethodsFile
			if err := provisioning.LoadYAML(file, &doc); err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			created := p.CreatePaymentMethods(cmd.Context(), doc)
			fmt.Fprintf(cmd.OutOrStdout(), "created payment methods: %s\n", strings.Join(created, ", "))
			return nil
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "payment-methods.yaml", "payment methods YAML file")

	cmd.AddCommand(create, a.listCmd("list", "List payment methods", func(cmd *cobra.Command) ([]byte, error) {
		client, err := a.commerceClient(cmd.Context())
		if err != nil {
			return nil, err
		}
		return client.ListOopePaymentMethods(cmd.Context())
	}))
	return cmd
}

func (a *app) shippingCarriersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "shipping-carriers", Short: "Manage out-of-process shipping carriers"}

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the shipping carriers declared in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc provisioning.ShippingCarriersFile
			if err := provisioning.LoadYAML(file, &doc); err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			created := p.CreateShippingCarriers(cmd.Context(), doc)
			fmt.Fprintf(cmd.OutOrStdout(), "created shipping carriers: %s\n", strings.Join(created, ", "))
			return nil
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "shipping-carriers.yaml", "shipping carriers YAML file")

	get := &cobra.Command{
		Use:   "get [code]",
		Short: "Show one shipping carrier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.commerceClient(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := client.GetOopeShippingCarrier(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}

	cmd.AddCommand(create, get, a.listCmd("list", "List shipping carriers", func(cmd *cobra.Command) ([]byte, error) {
		client, err := a.commerceClient(cmd.Context())
		if err != nil {
			return nil, err
		}
		return client.ListOopeShippingCarriers(cmd.Context())
	}))
	return cmd
}

func (a *app) commerceEventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "commerce-events", Short: "Configure Commerce eventing"}

	var workspaceFile, eventsFile string
	configure := &cobra.Command{
		Use:   "configure",
		Short: "Register the event provider, enable eventing and subscribe events",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := os.ReadFile(workspaceFile)
			if err != nil {
				return fmt.Errorf("read workspace configuration: %w", err)
			}
			var doc provisioning.EventsConfigFile
			if err := provisioning.LoadYAML(eventsFile, &doc); err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			results, err := p.ConfigureCommerceEvents(cmd.Context(), provisioning.ConfigureEventsInput{
				ProviderMapping: a.cfg.Events.ProviderMapping,
				Workspace:       json.RawMessage(workspace),
				Config:          doc,
				MerchantID:      a.cfg.Commerce.EventsMerchantID,
				EnvironmentID:   a.cfg.Commerce.EventsEnvironmentID,
			})
			for _, result := range results {
				status := "subscribed"
				switch {
				case result.AlreadyExists:
					status = "already exists"
				case result.Error != "":
					status = "failed: " + result.Error
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.Name, status)
			}
			return err
		},
	}
	configure.Flags().StringVar(&workspaceFile, "workspace", "scripts/commerce-event-subscribe/workspace.json", "Adobe I/O workspace configuration JSON")
	configure.Flags().StringVar(&eventsFile, "events", "events.config.yaml", "events configuration YAML file")

	cmd.AddCommand(configure)
	return cmd
}

func (a *app) oauthCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "oauth", Short: "Maintain OAuth credentials in the dotenv file"}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Copy AIO_ims_contexts_* values into OAUTH_* keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.ensureLogger()
			if err != nil {
				return err
			}
			result, err := provisioning.SyncOAuthCredentials(a.envFile, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated: %s\n", strings.Join(result.Updated, ", "))
			return nil
		},
	})
	return cmd
}

func (a *app) listCmd(use, short string, fetch func(*cobra.Command) ([]byte, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := fetch(cmd)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
}
