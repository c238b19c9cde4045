package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/moddengine/imgfeed/store"
	"github.com/spf13/cobra"
)

func newUserCommand(app *cli) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}
	var level int
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or replace an API user, reading the password from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			pass := strings.TrimRight(line, "\r\n")
			if pass == "" {
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				return errors.New("password must not be empty")
			}

			st, err := store.New(app.cfg.Database, app.log)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.AddUser(args[0], pass, level); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s saved\n", args[0])
			return nil
		},
	}
	addCmd.Flags().IntVar(&level, "level", 1, "access level")
	userCmd.AddCommand(addCmd)
	return userCmd
}
