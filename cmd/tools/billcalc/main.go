// Command billcalc prices an invoice JSON document and prints the totals and
// settlement state. Exit code 0 = ok, 1 = the invoice was rejected, 2 = usage
// or I/O error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/errs"
	"github.com/noah-isme/backend-billing/internal/invoice"
	"github.com/noah-isme/backend-billing/internal/pricing"
)

// errRejected marks failures reported by the engine rather than by I/O.
var errRejected = errors.New("invoice rejected")

func main() {
	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errRejected) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		mode    string
		compact bool
	)
	cmd := &cobra.Command{
		Use:           "billcalc [invoice.json]",
		Short:         "Compute GST totals and settlement state for an invoice",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaultMode, err := pricing.ParseDiscountMode(mode)
			if err != nil {
				fmt.Fprintf(stderr, "billcalc: %v\n", err)
				return err
			}
			in, err := readInput(stdin, args)
			if err != nil {
				fmt.Fprintf(stderr, "billcalc: %v\n", err)
				return err
			}
			defer in.Close()
			var inv invoice.Input
			if err := common.DecodeJSON(in, &inv); err != nil {
				fmt.Fprintf(stderr, "billcalc: %v\n", err)
				if errors.Is(err, errs.ErrValidation) {
					return fmt.Errorf("%w: %w", errRejected, err)
				}
				return err
			}

			svc := invoice.NewService(defaultMode, nil, nil, zerolog.Nop())
			out, err := svc.Calculate(cmd.Context(), inv)
			if err != nil {
				fmt.Fprintf(stderr, "billcalc: %v\n", err)
				return fmt.Errorf("%w: %w", errRejected, err)
			}

			enc := json.NewEncoder(stdout)
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(out)
		},
	}
	cmd.SetContext(context.Background())
	cmd.Flags().StringVar(&mode, "discount-mode", string(pricing.DiscountPreTax), "discount mode when the invoice does not set one (pre_tax|post_tax)")
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON")
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

func readInput(stdin io.Reader, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(args[0])
}
