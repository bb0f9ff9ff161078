package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/puppetline/puppetline/internal/apply"
	"github.com/puppetline/puppetline/internal/config"
	"github.com/puppetline/puppetline/internal/executor"
	"github.com/puppetline/puppetline/internal/facts"
	"github.com/puppetline/puppetline/internal/logger"
	"github.com/puppetline/puppetline/internal/provision"
	"github.com/puppetline/puppetline/internal/registrar"
)

type provisionOptions struct {
	RequestPath string
	Verbose     bool
	Interactive bool
}

var provisionCmdRunner = runProvision

func newProvisionCmd(root *rootFlags) *cobra.Command {
	opts := provisionOptions{}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Run the compile-master provisioning sequence against one target",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Verbose = root.verbose
			opts.Interactive = term.IsTerminal(int(os.Stdout.Fd()))
			return provisionCmdRunner(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.RequestPath, "request", "r", "", "Path to the provisioning request file")
	cmd.MarkFlagRequired("request") //nolint:errcheck

	return cmd
}

func runProvision(opts provisionOptions) error {
	req, err := config.ParseRequest(opts.RequestPath)
	if err != nil {
		return err
	}

	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: opts.Interactive})
	if err != nil {
		return err
	}

	exec, err := executor.NewSSH(req.SSH)
	if err != nil {
		return err
	}

	var reg provision.Registrar
	if req.ManageGithubDeployKey {
		deployKeys, err := registrar.NewDeployKeys(req.Github.Token, req.Github.Server)
		if err != nil {
			return err
		}
		reg = deployKeys
	}

	// Cancellation is all-or-nothing: an interrupt leaves the target in
	// whatever state the last completed step produced.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	seq := provision.New(exec, apply.NewTaskApplier(exec), facts.NewWriter(exec), reg, log)
	outcome := seq.Execute(ctx, req)

	fmt.Println(provision.RenderSummary(outcome))

	if !outcome.Completed {
		return outcome.Err
	}
	return nil
}
