package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/bigkaa/sitepanel/internal/console"
	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users and their roles",
}

var (
	usersSearch string

	createEmail     string
	createPassword  string
	createFirstName string
	createLastName  string
	createRole      string

	deleteYes bool
)

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with their roles",
	Long:  `Lists users newest first. --search filters by email, name, or role name (case-insensitive).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		e.console.SetSearch(usersSearch)
		users := e.console.FilteredUsers()
		if len(users) == 0 {
			pterm.Info.Println("No users found.")
			return nil
		}

		table := pterm.TableData{{"ID", "EMAIL", "NAME", "ROLE", "ACTIVE", "CREATED"}}
		for i := range users {
			u := &users[i]
			table = append(table, []string{
				u.ID,
				u.Email,
				fullName(u),
				dash(u.Role.Name),
				strconv.FormatBool(u.IsActive),
				u.CreatedAt.Format("2006-01-02"),
			})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		return nil
	},
}

var usersSetRoleCmd = &cobra.Command{
	Use:   "set-role <user_id> <role_name>",
	Short: "Change a user's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		if !e.console.CanChangeRole(args[0]) {
			pterm.Warning.Println("The panel would not offer this change; the server decides.")
		}
		if err := e.console.ChangeRole(cmd.Context(), args[0], args[1]); err != nil {
			return consoleError(e.console, err)
		}
		pterm.Success.Printf("Role of %s changed to %s\n", args[0], args[1])
		return nil
	},
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with a role",
	Long: `Creates the identity account and the profile with the given role.
--role accepts a role name or numeric ID. Roles of admin tier or above
can be assigned only by super_admin.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		roleID, err := resolveRoleID(e.console.AssignableRoles(), createRole)
		if err != nil {
			return err
		}

		ok := e.console.CreateUser(cmd.Context(), console.CreateUserInput{
			Email:     strings.TrimSpace(createEmail),
			Password:  createPassword,
			FirstName: createFirstName,
			LastName:  createLastName,
			RoleID:    roleID,
		})
		if !ok {
			return consoleError(e.console, errors.New("user was not created"))
		}
		pterm.Success.Println(e.console.SuccessMessage())
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete a user and their identity account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		userID := args[0]
		if !deleteYes {
			confirmed, err := pterm.DefaultInteractiveConfirm.Show(fmt.Sprintf("Delete user %s?", userID))
			if err != nil {
				return err
			}
			if !confirmed {
				pterm.Info.Println("Cancelled.")
				return nil
			}
		}

		if !e.console.DeleteUser(cmd.Context(), userID) {
			return consoleError(e.console, errors.New("user was not deleted"))
		}
		pterm.Success.Println(e.console.SuccessMessage())
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List roles available to you",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		table := pterm.TableData{{"ID", "NAME", "ASSIGNABLE"}}
		for _, r := range e.console.AssignableRoles() {
			table = append(table, []string{strconv.Itoa(r.ID), r.Name, strconv.FormatBool(!r.Disabled)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display user statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		s := e.console.Stats()
		pterm.DefaultSection.Println("Users")
		_ = pterm.DefaultTable.WithData(pterm.TableData{
			{"Total", strconv.Itoa(s.Total)},
			{"Active", strconv.Itoa(s.Active)},
			{"Inactive", strconv.Itoa(s.Inactive)},
			{"Admins", strconv.Itoa(s.Admins)},
		}).Render()
		return nil
	},
}

func init() {
	usersListCmd.Flags().StringVarP(&usersSearch, "search", "s", "", "Filter by email, name, or role")

	usersCreateCmd.Flags().StringVar(&createEmail, "email", "", "User email")
	usersCreateCmd.Flags().StringVar(&createPassword, "password", "", "Initial password")
	usersCreateCmd.Flags().StringVar(&createFirstName, "first-name", "", "First name")
	usersCreateCmd.Flags().StringVar(&createLastName, "last-name", "", "Last name")
	usersCreateCmd.Flags().StringVar(&createRole, "role", "", "Role name or ID")
	_ = usersCreateCmd.MarkFlagRequired("email")
	_ = usersCreateCmd.MarkFlagRequired("password")

	usersDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip confirmation")

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersSetRoleCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}

// resolveRoleID находит роль по имени или ID. Пустое значение — 0
// (роль не выбрана). Недоступная роль отклоняется до запроса.
func resolveRoleID(opts []rbac.RoleOption, value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	for _, o := range opts {
		if o.Name == value || strconv.Itoa(o.ID) == value {
			if o.Disabled {
				return 0, fmt.Errorf("role %q can be assigned only by super_admin", o.Name)
			}
			return o.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", value)
}

func fullName(u *model.UserWithRole) string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	return dash(strings.Join(parts, " "))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
