package cli

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"pdf-qa/internal/agent"
	"pdf-qa/internal/web"
)

var (
	_ answerer    = (*agent.Agent)(nil)
	_ web.Service = (*agent.Agent)(nil)
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and question page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := web.NewServer(web.Config{
			Addr:      addr,
			UploadDir: cfg.Server.UploadDir,
			TopK:      cfg.RAG.TopK,
		}, a.agent)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (defaults to server.addr)")
	rootCmd.AddCommand(serveCmd)
}
