package cli

import (
	"fmt"
	"strings"

	"github.com/dragon-marcel/mat-gwiazda/internal/config"
	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/dragon-marcel/mat-gwiazda/internal/infra/postgres"
	"github.com/spf13/cobra"
)

// NewUserCmd groups user administration commands.
func NewUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := postgres.NewStore(db).CreateUser(cmd.Context(), domain.NewUser(strings.TrimSpace(name)))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(add)
	return cmd
}
