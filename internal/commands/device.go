package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"thinfleet/internal/registry"
	"thinfleet/pkg/models"
	"thinfleet/pkg/output"
)

func newRegisterDeviceCommand(a *app) *cobra.Command {
	var (
		info     registry.DeviceInfo
		hardware string
	)

	cmd := &cobra.Command{
		Use:   "register-device",
		Short: "Register a device by MAC address",
		Long: `Register a thin-client device. Registering a known MAC address updates the
existing record. When an IP address is given, the DHCP reservation is updated too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hardware != "" {
				if err := json.Unmarshal([]byte(hardware), &info.HardwareProfile); err != nil {
					return a.fail(fmt.Errorf("--hardware must be a JSON object: %v: %w", err, models.ErrValidation))
				}
			}

			svc, err := a.core()
			if err != nil {
				return err
			}

			res, err := svc.devices.Register(commandContext(cmd), info)
			if err != nil {
				return a.fail(err)
			}

			return a.render(res, func(w io.Writer) error {
				verb := "Updated"
				if res.Created {
					verb = "Registered"
				}
				fmt.Fprintf(w, "%s device %s (%s)\n", verb, res.DeviceID, res.MACAddress)
				for _, warn := range res.Warnings {
					fmt.Fprintf(w, "Warning (%s): %s\n", warn.Kind, warn.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&info.MACAddress, "mac", "", "device MAC address")
	cmd.Flags().StringVar(&info.IPAddress, "ip", "", "device IP address")
	cmd.Flags().StringVar(&info.Hostname, "hostname", "", "device hostname")
	cmd.Flags().StringVar(&info.DeviceID, "device-id", "", "device id (default: MAC without separators)")
	cmd.Flags().StringVar(&info.Location, "location", "", "physical location")
	cmd.Flags().StringVar(&info.AssignedUser, "assigned-user", "", "user the device is assigned to")
	cmd.Flags().StringVar(&hardware, "hardware", "", "hardware profile as a JSON object")
	cmd.MarkFlagRequired("mac")

	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var deviceID, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices, or the deployments of one device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			if deviceID != "" {
				deployments, err := svc.orchestrator.ListDeployments(ctx, models.DeploymentFilter{
					DeviceID: deviceID,
					Status:   models.DeploymentStatus(status),
				})
				if err != nil {
					return a.fail(err)
				}
				return a.render(struct {
					Success     bool                 `json:"success"`
					DeviceID    string               `json:"device_id"`
					Deployments []*models.Deployment `json:"deployments"`
				}{true, deviceID, deployments}, func(w io.Writer) error {
					return deploymentTable(w, deployments)
				})
			}

			devices, err := svc.devices.List(ctx, status)
			if err != nil {
				return a.fail(err)
			}
			return a.render(struct {
				Success bool             `json:"success"`
				Devices []*models.Device `json:"devices"`
			}{true, devices}, func(w io.Writer) error {
				return deviceTable(w, devices)
			})
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "list the deployments of this device")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")

	return cmd
}

func deviceTable(w io.Writer, devices []*models.Device) error {
	rows := make([][]string, len(devices))
	for i, d := range devices {
		rows[i] = []string{d.DeviceID, d.MACAddress, dash(d.IPAddress), dash(d.Hostname), string(d.Status), dash(d.CurrentImage), formatTime(d.LastSeen)}
	}
	return output.Table(w, []string{"DEVICE ID", "MAC", "IP", "HOSTNAME", "STATUS", "IMAGE", "LAST SEEN"}, rows)
}

func deploymentTable(w io.Writer, deployments []*models.Deployment) error {
	rows := make([][]string, len(deployments))
	for i, d := range deployments {
		rows[i] = []string{d.DeploymentID, d.ImageID, string(d.DeploymentMethod), string(d.Status), formatTime(d.CreatedAt), dash(d.ErrorMessage)}
	}
	return output.Table(w, []string{"DEPLOYMENT ID", "IMAGE", "METHOD", "STATUS", "CREATED", "ERROR"}, rows)
}
