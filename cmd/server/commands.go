package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/rpattn/customdata/internal/export"
	"github.com/rpattn/customdata/internal/server"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the custom data GraphQL endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireShop(); err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			client, err := a.loadedClient(ctx)
			if err != nil {
				return err
			}

			handler := server.NewHandler(client, server.Options{
				Shop:           a.cfg.Shop.Domain,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Playground:     a.cfg.Server.Playground,
				Logger:         a.logger,
			})
			return server.Run(ctx, a.cfg.Server.Addr, handler, a.cfg.Server.ShutdownTimeout, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newSchemaCommand(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the composed virtual schema as SDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.loadedClient(cmd.Context())
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			formatter.NewFormatter(&buf).FormatSchema(client.Schema())
			if output == "" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			a.logger.Info().Str("file", output).Msg("wrote schema")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the SDL to a file instead of stdout")
	return cmd
}

func newCatalogCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the metafield and metaobject catalog",
	}
	cmd.AddCommand(newCatalogExportCommand(flags))
	return cmd
}

func newCatalogExportCommand(flags *rootFlags) *cobra.Command {
	var (
		formatName string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export catalog definitions to xlsx or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.loadedClient(cmd.Context())
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := export.Write(&buf, format, client.Catalog(), client.Schema()); err != nil {
				return err
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if output == "" {
				output = export.FileName(a.cfg.Shop.Domain, format, time.Now())
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", string(export.FormatXLSX), "export format (xlsx or csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default derived from the shop)")
	return cmd
}
