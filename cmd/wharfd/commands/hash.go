package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/pkg/users"
)

var hashCmd = &cobra.Command{
	Use:   "hash <password>",
	Short: "Generate a bcrypt password hash for the users file",
	Long: `Generate a bcrypt password hash suitable for the users file or the
admin_password_hash setting.

Example:
  wharfd hash s3cret >> /etc/wharfd/users.yaml  # then edit into place`,
	Args: cobra.ExactArgs(1),
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	hash, err := users.HashPassword(args[0])
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fmt.Println(hash)
	return nil
}
