package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage portal users",
		Long:  "Create and list user accounts that log in to the portal for rule management.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		org      string
		role     string
		readonly bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new portal user",
		Example: `  flowadmin user create --email noc@example.net --org "Example NOC" --role admin
  flowadmin user create --email viewer@example.net --org "Example NOC" --readonly  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, org, role, readonly)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&org, "org", "", "Organization name (required, created if missing)")
	cmd.Flags().StringVar(&role, "role", "user", "Role: view, user, or admin")
	cmd.Flags().BoolVar(&readonly, "readonly", false, "Deny all mutating operations regardless of role")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runUserCreate(email, password, name, orgName, role string, readonly bool) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	switch role {
	case "view", "user", "admin":
	default:
		return fmt.Errorf("invalid role %q (expected view, user, or admin)", role)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open portal store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	org, err := store.GetOrganizationByName(ctx, orgName)
	if errors.Is(err, config.ErrNotFound) {
		org = &model.Organization{Name: orgName}
		if err := store.CreateOrganization(ctx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		fmt.Printf("Created organization %q\n", orgName)
	} else if err != nil {
		return fmt.Errorf("look up organization: %w", err)
	}

	user := &model.User{
		UUID:         uuid.Must(uuid.NewV7()).String(),
		Email:        email,
		Name:         name,
		PasswordHash: config.HashSecret(password),
		Role:         role,
		ReadOnly:     readonly,
		OrgID:        org.ID,
		IsActive:     true,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q (role %s, org %s)\n", email, role, orgName)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all portal users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open portal store: %w", err)
	}
	defer store.Close()

	users, err := store.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users found. Create one with: flowadmin user create")
		return nil
	}

	for _, u := range users {
		flags := u.Role
		if u.ReadOnly {
			flags += ", read-only"
		}
		if !u.IsActive {
			flags += ", disabled"
		}
		fmt.Printf("  %-30s %s\n", u.Email, flags)
	}
	return nil
}
