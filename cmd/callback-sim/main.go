package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"mpesa-callback-service/internal/config"
	"mpesa-callback-service/internal/logging"
	"mpesa-callback-service/internal/simulator"
)

func main() {
	var (
		url      string
		scenario string
		count    int
		phone    int64
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "callback-sim",
		Short: "Post simulated M-Pesa STK callbacks to the callback service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.GetLogger(config.Logs{Level: "info"})
			sender := simulator.NewSender(timeout, logger)

			for i := 0; i < count; i++ {
				cb, err := simulator.Build(simulator.Scenario(scenario), phone)
				if err != nil {
					return err
				}

				resp, err := sender.Send(cmd.Context(), url, cb)
				if err != nil {
					return errors.Wrapf(err, "callback %d", i+1)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s -> %d %s\n",
					i+1, *cb.Body.StkCallback.CheckoutRequestID, resp.Status, resp.Message)

				if interval > 0 && i < count-1 {
					time.Sleep(interval)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/payment/callback", "callback endpoint")
	cmd.Flags().StringVar(&scenario, "scenario", string(simulator.ScenarioRandom), "success, cancelled, failed or random")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of callbacks to send")
	cmd.Flags().Int64Var(&phone, "phone", 254712345678, "payer phone number")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between callbacks")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
