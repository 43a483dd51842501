package main

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/schema"
)

const (
	defaultPasswordLength = 20
	totpIssuer            = "tenantgate"
)

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users of the mock backend directory",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newUsersListCmd(&cfgPath))
	cmd.AddCommand(newUsersAddCmd(&cfgPath))
	cmd.AddCommand(newUsersDeleteCmd(&cfgPath))
	cmd.AddCommand(newUsersRotateTOTP(&cfgPath))
	cmd.AddCommand(newUsersChpasswd(&cfgPath))

	return cmd
}

func openDirectory(cmd *cobra.Command, cfgPath string) (*directory.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return directory.NewStoreWithLogger(cfg.Mock.DirectoryFile, toDirectorySeed(cfg.Mock), pslog.Ctx(cmd.Context()))
}

func newUsersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDirectory(cmd, *cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, user := range store.Users() {
				role := user.Role
				if user.SuperAdmin {
					role = "super_admin"
				}
				tenant := string(user.Tenant)
				if tenant == "" {
					tenant = "-"
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", user.Email, role, tenant)
			}
			return nil
		},
	}
}

func newUsersAddCmd(cfgPath *string) *cobra.Command {
	var passwordFromStdin bool
	var autoPassword bool
	var noTOTP bool
	var name string
	var tenant string
	var role string
	var superAdmin bool
	var stores []string
	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := validateEmail(args[0])
			if err != nil {
				return err
			}
			password, generated, err := resolvePassword(cmd, passwordFromStdin, autoPassword)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			var secret, url string
			if !noTOTP {
				if secret, url, err = generateTOTP(email); err != nil {
					return err
				}
			}
			store, err := openDirectory(cmd, *cfgPath)
			if err != nil {
				return err
			}
			storeIDs := make([]schema.StoreID, 0, len(stores))
			for _, id := range stores {
				if id = strings.TrimSpace(id); id != "" {
					storeIDs = append(storeIDs, schema.StoreID(id))
				}
			}
			if err := store.AddUser(directory.User{
				Email:        email,
				Name:         name,
				PasswordHash: string(hash),
				TOTPSecret:   secret,
				Role:         role,
				SuperAdmin:   superAdmin,
				Tenant:       schema.TenantDNS(tenant),
				Stores:       storeIDs,
			}); err != nil {
				return err
			}
			printUserEnrollment(cmd.OutOrStdout(), email, password, generated, secret, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	cmd.Flags().BoolVar(&noTOTP, "no-totp", false, "do not enroll a TOTP secret")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant DNS label the user belongs to")
	cmd.Flags().StringVar(&role, "role", directory.RoleUser, "role (admin or user)")
	cmd.Flags().BoolVar(&superAdmin, "super-admin", false, "grant access to the admin console")
	cmd.Flags().StringSliceVar(&stores, "store", nil, "assigned store id (repeatable)")
	return cmd
}

func newUsersDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <email>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDirectory(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.DeleteUser(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted user: %s\n", args[0])
			return nil
		},
	}
}

func newUsersRotateTOTP(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-totp <email>",
		Short: "Rotate TOTP secret for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := validateEmail(args[0])
			if err != nil {
				return err
			}
			secret, url, err := generateTOTP(email)
			if err != nil {
				return err
			}
			store, err := openDirectory(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.UpdateTOTP(email, secret); err != nil {
				return err
			}
			printUserEnrollment(cmd.OutOrStdout(), email, "", false, secret, url)
			return nil
		},
	}
}

func newUsersChpasswd(cfgPath *string) *cobra.Command {
	var passwordFromStdin bool
	var autoPassword bool
	cmd := &cobra.Command{
		Use:   "chpasswd <email>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := validateEmail(args[0])
			if err != nil {
				return err
			}
			password, generated, err := resolvePassword(cmd, passwordFromStdin, autoPassword)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			store, err := openDirectory(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.UpdatePassword(email, string(hash)); err != nil {
				return err
			}
			printUserEnrollment(cmd.OutOrStdout(), email, password, generated, "", "")
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	return cmd
}

func resolvePassword(cmd *cobra.Command, fromStdin, auto bool) (string, bool, error) {
	if fromStdin && auto {
		return "", false, errors.New("choose one of --password-from-stdin or --auto-password")
	}
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", false, err
		}
		pass := strings.TrimSpace(string(data))
		if pass == "" {
			return "", false, errors.New("password from stdin is empty")
		}
		return pass, false, nil
	}
	if auto {
		pass, err := generatePassword(defaultPasswordLength)
		if err != nil {
			return "", false, err
		}
		return pass, true, nil
	}
	reader := bufio.NewReader(cmd.InOrStdin())
	passphrase, err := promptPassword(reader, cmd.ErrOrStderr(), "Password: ")
	if err != nil {
		return "", false, err
	}
	confirm, err := promptPassword(reader, cmd.ErrOrStderr(), "Confirm password: ")
	if err != nil {
		return "", false, err
	}
	if passphrase != confirm {
		return "", false, errors.New("passwords do not match")
	}
	if passphrase == "" {
		return "", false, errors.New("password is empty")
	}
	return passphrase, false, nil
}

// promptPassword reads without echo when stdin is a terminal and falls back to a plain line read.
func promptPassword(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	_, _ = fmt.Fprint(out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for i, b := range bytes {
		bytes[i] = charset[int(b)%len(charset)]
	}
	return string(bytes), nil
}

func generateTOTP(email string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func printUserEnrollment(w io.Writer, email, password string, showPassword bool, secret, url string) {
	_, _ = fmt.Fprintf(w, "email: %s\n", email)
	if showPassword && password != "" {
		_, _ = fmt.Fprintf(w, "password: %s\n", password)
	}
	if secret != "" {
		_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	}
	if url != "" {
		_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
		_, _ = fmt.Fprintln(w, "totp_qr:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	}
}

func validateEmail(value string) (string, error) {
	email, err := schema.NormalizeEmail(value)
	if err != nil {
		return "", errors.New("invalid email address")
	}
	return email, nil
}
