package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mmeshcher/filedrop/internal/model"
)

var refundReason string

var refundCmd = &cobra.Command{
	Use:   "refund",
	Short: "Manage refunds",
}

var refundProcessCmd = &cobra.Command{
	Use:   "process [refund-id]",
	Short: "Send an eligible refund to the payment gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefundProcess,
}

var refundRetryCmd = &cobra.Command{
	Use:   "retry [refund-id]",
	Short: "Move a failed refund back to eligible",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefundRetry,
}

var refundCreateCmd = &cobra.Command{
	Use:   "create [order-id]",
	Short: "Open a manual refund for a paid order",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefundCreate,
}

func init() {
	refundCreateCmd.Flags().StringVar(&refundReason, "reason", string(model.ReasonCustomerRequest), "refund reason")

	refundCmd.AddCommand(refundProcessCmd)
	refundCmd.AddCommand(refundRetryCmd)
	refundCmd.AddCommand(refundCreateCmd)
}

func parseID(kind, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, v, err)
	}
	return id, nil
}

func runRefundProcess(cmd *cobra.Command, args []string) error {
	id, err := parseID("refund", args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Refunds.ProcessRefund(ctx, id)
	if err != nil {
		return fmt.Errorf("process refund %s: %w", id, err)
	}

	fmt.Printf("Refund:     %s\n", res.RefundID)
	fmt.Printf("Gateway ID: %s\n", res.GatewayRefundID)
	fmt.Printf("WhatsApp:   %t\n", res.WhatsAppSent)
	fmt.Println(res.Message)
	return nil
}

func runRefundRetry(cmd *cobra.Command, args []string) error {
	id, err := parseID("refund", args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rf, err := a.Refunds.RetryRefund(ctx, id)
	if err != nil {
		return fmt.Errorf("retry refund %s: %w", id, err)
	}

	fmt.Printf("Refund %s is %s again\n", rf.ID, rf.Status)
	return nil
}

func runRefundCreate(cmd *cobra.Command, args []string) error {
	orderID, err := parseID("order", args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rf, err := a.Refunds.CreateManualRefund(ctx, orderID, model.RefundReason(refundReason))
	if err != nil {
		return fmt.Errorf("create refund for order %s: %w", orderID, err)
	}

	fmt.Printf("Created refund %s: %.2f %s (%s)\n", rf.ID, rf.Amount, rf.Currency, rf.Status)
	return nil
}
