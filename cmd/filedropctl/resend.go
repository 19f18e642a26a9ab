package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var resendCmd = &cobra.Command{
	Use:   "resend [order-id]",
	Short: "Issue missing download tokens and resend links for an order",
	Long: `Resend download links for a paid order.

Missing tokens are created first, then links go out by email and,
if the customer opted in, by WhatsApp. A per-channel report is printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runResend,
}

func runResend(cmd *cobra.Command, args []string) error {
	orderID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Dispatcher.DeliverOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("deliver order %s: %w", orderID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
