package committees

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/p2pmodels/committees/app/committees/controller"
	"github.com/p2pmodels/committees/app/committees/types"
	"github.com/p2pmodels/committees/pkg/utils"
)

// NewServer builds the reader API server.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3010")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
