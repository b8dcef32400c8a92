package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) ordersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "orders", Short: "Inspect and invoice orders"}

	var cartID string
	find := &cobra.Command{
		Use:   "find",
		Short: "Find the order placed from a masked cart id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cartID == "" {
				return errors.New("--cart is required")
			}
			client, err := a.commerceClient(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := client.GetOrderByMaskedCartID(cmd.Context(), cartID)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	}
	find.Flags().StringVar(&cartID, "cart", "", "masked cart id")

	var capture bool
	invoice := &cobra.Command{
		Use:   "invoice [order-id]",
		Short: "Create an invoice for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.commerceClient(cmd.Context())
			if err != nil {
				return err
			}
			invoiceID, err := client.InvoiceOrder(cmd.Context(), args[0], capture)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invoice %s created\n", invoiceID)
			return nil
		},
	}
	invoice.Flags().BoolVar(&capture, "capture", true, "capture the payment online")

	refund := &cobra.Command{
		Use:   "refund-invoice [invoice-id]",
		Short: "Create a credit memo for an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.commerceClient(cmd.Context())
			if err != nil {
				return err
			}
			creditMemoID, err := client.RefundInvoice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credit memo %s created\n", creditMemoID)
			return nil
		},
	}

	cmd.AddCommand(find, invoice, refund)
	return cmd
}
