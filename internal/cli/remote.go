package cli

import (
	"context"
	"strings"
	"time"

	"flowtabs/internal/api"
	"flowtabs/internal/model"

	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

// client targets the running instance at transport.addr. A bare ":port"
// listen address is dialed on loopback.
func (app *App) client() (*api.Client, string) {
	addr := strings.TrimSpace(app.cfg.Transport.Addr)
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return api.NewClient(addr), addr
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func parseKeyArgs(kind, id string) (model.Key, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return model.Key{}, err
	}
	return model.Key{Kind: k, ID: model.ID(strings.TrimSpace(id))}, nil
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the ranked views of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, addr := app.client()
			ctx, cancel := requestContext(cmd)
			defer cancel()
			v, err := c.Views(ctx)
			if err != nil {
				return writeErr(cmd, apiError(addr, model.Key{}, err))
			}
			return writeOut(cmd, app, v)
		},
	}
}

func newFavoriteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorite",
		Short: "Pin or unpin an item so it stays in the relevant list",
	}
	for _, fav := range []bool{true, false} {
		use, short := "add <kind> <id>", "Pin an item (kind: tab|window)"
		if !fav {
			use, short = "remove <kind> <id>", "Unpin an item"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := parseKeyArgs(args[0], args[1])
				if err != nil {
					return writeErr(cmd, err)
				}
				c, addr := app.client()
				ctx, cancel := requestContext(cmd)
				defer cancel()
				if err := c.SetFavorite(ctx, key, fav); err != nil {
					return writeErr(cmd, apiError(addr, key, err))
				}
				return writeOut(cmd, app, map[string]any{"kind": key.Kind, "id": key.ID, "favorite": fav})
			},
		})
	}
	return cmd
}

func newActivateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <kind> <id>",
		Short: "Bring a tab or window to the foreground",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyArgs(args[0], args[1])
			if err != nil {
				return writeErr(cmd, err)
			}
			c, addr := app.client()
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := c.Activate(ctx, key); err != nil {
				return writeErr(cmd, apiError(addr, key, err))
			}
			return writeOut(cmd, app, map[string]any{"kind": key.Kind, "id": key.ID, "activated": true})
		},
	}
}

func newSearchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query...>",
		Short: "Run a web search in the browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			c, addr := app.client()
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := c.Search(ctx, q); err != nil {
				return writeErr(cmd, apiError(addr, model.Key{}, err))
			}
			return writeOut(cmd, app, map[string]any{"query": q, "searched": true})
		},
	}
}
