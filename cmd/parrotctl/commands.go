package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/parrot-session/internal/config"
	"github.com/jrsteele09/parrot-session/users"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// newRootCommand builds the command tree. The returned func releases the
// resources opened by whichever command ran.
func newRootCommand(c config.Config) (*cobra.Command, func()) {
	var a *app

	root := &cobra.Command{
		Use:           "parrotctl",
		Short:         "Sign in to Parrot Analyzer and call its API with the stored session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(c, cmd.OutOrStdout())
			return err
		},
	}

	getApp := func() *app { return a }
	root.AddCommand(
		newLoginCommand(c, getApp),
		newLogoutCommand(getApp),
		newWhoamiCommand(getApp),
		newRefreshCommand(getApp),
		newUpdateCommand(getApp),
		newGetCommand(getApp),
		newRegisterDeviceCommand(getApp),
	)
	return root, func() {
		if a != nil {
			a.Close()
		}
	}
}

func newLoginCommand(c config.EnvConfig, getApp func() *app) *cobra.Command {
	var identifier, password string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an email or phone number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !quiet {
				displayAppname(c.GetAppName())
			}
			result := getApp().manager.Login(cmd.Context(), identifier, password)
			if !result.OK() {
				return errors.New(result.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&identifier, "identifier", "u", "", "email or phone number")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the banner")
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unregister this device and clear the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			if err := a.restore(cmd.Context()); err != nil {
				return err
			}
			return a.manager.Logout(cmd.Context())
		},
	}
}

func newWhoamiCommand(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			if err := a.restore(cmd.Context()); err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), a.manager.Current().User)
		},
	}
}

func newRefreshCommand(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			if err := a.restore(cmd.Context()); err != nil {
				return err
			}
			if _, err := a.manager.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Access token refreshed.")
			return nil
		},
	}
}

func newUpdateCommand(getApp func() *app) *cobra.Command {
	var name, email, phone string

	cmd := &cobra.Command{
		Use:   "update-profile",
		Short: "Update the locally stored profile of the signed in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			if err := a.restore(cmd.Context()); err != nil {
				return err
			}

			var update users.Update
			if cmd.Flags().Changed("name") {
				update.Name = &name
			}
			if cmd.Flags().Changed("email") {
				update.Email = &email
			}
			if cmd.Flags().Changed("phone") {
				update.Phone = &phone
			}
			if update.Empty() {
				return errors.New("nothing to update")
			}

			u, err := a.manager.UpdateUser(cmd.Context(), update)
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), *u)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

func newGetCommand(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Call an authenticated API endpoint and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if err := a.restore(cmd.Context()); err != nil {
				return err
			}

			url := a.client.BaseURL() + "/" + strings.TrimPrefix(args[0], "/")
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return errors.Wrap(err, "[get] NewRequest")
			}
			resp, err := a.manager.HTTPClient(nil, a.config.GetRequestTimeout()).Do(req)
			if err != nil {
				return errors.Wrap(err, "[get] Do")
			}
			defer resp.Body.Close()

			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", resp.Status)
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return errors.Wrap(err, "[get] read body")
			}
			if resp.StatusCode >= http.StatusBadRequest {
				return errors.Errorf("request failed with %s", resp.Status)
			}
			return nil
		},
	}
}

func newRegisterDeviceCommand(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register-device <push-token>",
		Short: "Register a push notification token for the signed in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if err := a.restore(cmd.Context()); err != nil {
				return err
			}
			if err := a.manager.RegisterPushToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Device registered.")
			return nil
		},
	}
}

func printUser(w io.Writer, u users.User) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(u)
}
