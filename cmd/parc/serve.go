package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"parc/internal/app"
	"parc/internal/server"
	"parc/internal/session"
	"parc/internal/tui"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if err := a.RequireGenerator(); err != nil {
					a.Logger.Warn("continuation disabled", zap.Error(err))
				}
				handler, err := server.New(server.Config{
					Engine:      a.Engine,
					BasePath:    basePath,
					Logger:      a.Logger,
					Metrics:     a.Metrics,
					SessionIdle: a.Config.SessionIdle(),
				})
				if err != nil {
					return err
				}
				if hooks := server.NewWebhookDispatcher(a.Engine, a.Logger); hooks != nil {
					go hooks.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving PARC API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func playCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Open the interactive player",
		RunE: func(cmd *cobra.Command, args []string) error {
			return openApp(cmd.Context(), app.Overrides{Quiet: true}, func(ctx context.Context, a *app.App) error {
				notifier := tui.NewNotifier()
				sess, err := session.Open(ctx, a.Engine, viper.GetString("key"), session.Options{
					ActorID:  viper.GetString("actor-id"),
					Length:   time.Duration(minutes) * time.Minute,
					OnChange: notifier.Notify,
				})
				if err != nil {
					return err
				}
				defer sess.Close()
				return tui.Start(ctx, sess, notifier)
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "end the session after this many minutes")
	return cmd
}
