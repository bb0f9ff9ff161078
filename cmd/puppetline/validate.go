package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/puppetline/puppetline/internal/config"
)

func newValidateCmd() *cobra.Command {
	var requestPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a provisioning request without touching any host",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := config.ParseRequest(requestPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "request valid: target %s, mom %s\n", req.Target, req.MomFQDN)
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestPath, "request", "r", "", "Path to the provisioning request file")
	cmd.MarkFlagRequired("request") //nolint:errcheck

	return cmd
}
