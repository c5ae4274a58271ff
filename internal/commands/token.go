package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"thinfleet/internal/auth"
	"thinfleet/pkg/models"
)

func newAgentTokenCommand(a *app) *cobra.Command {
	var (
		deviceID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "agent-token",
		Short: "Issue the bearer token a device agent uses for callbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AgentAPI.JWTSecret == "" {
				return a.fail(fmt.Errorf("AGENT_JWT_SECRET is not configured: %w", models.ErrValidation))
			}

			svc, err := a.core()
			if err != nil {
				return err
			}
			if _, err := svc.devices.Get(commandContext(cmd), deviceID); err != nil {
				return a.fail(err)
			}

			if ttl <= 0 {
				ttl = a.cfg.AgentAPI.TokenTTL
			}
			token, err := auth.NewJWTManager(a.cfg.AgentAPI.JWTSecret).GenerateDeviceToken(deviceID, ttl)
			if err != nil {
				return err
			}

			expires := time.Now().UTC().Add(ttl)
			return a.render(struct {
				Success   bool      `json:"success"`
				DeviceID  string    `json:"device_id"`
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}{true, deviceID, token, expires}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "device the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from agent_api.token_ttl)")
	cmd.MarkFlagRequired("device-id")

	return cmd
}
