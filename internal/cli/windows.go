package cli

import (
	"errors"

	"flowtabs/internal/model"
	"flowtabs/internal/osapi"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWindowsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List desktop windows once through the OS backend (diagnostics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := osapi.New("", osOptions(app.cfg, zap.NewNop()))
			if err != nil {
				return writeErr(cmd, err)
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			wins, err := caps.ListWindows(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			if wins == nil {
				wins = []model.Window{}
			}
			active, err := caps.ActiveWindow(ctx)
			if err != nil && !errors.Is(err, osapi.ErrUnsupported) {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"backend": caps.Name(),
				"active":  active,
				"windows": wins,
			})
		},
	}
}
