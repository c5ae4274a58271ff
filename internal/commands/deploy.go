package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"thinfleet/pkg/models"
)

func newDeployCommand(a *app) *cobra.Command {
	var deviceID, imageID, method string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy an image to a device",
		Long: `Deploy an image to a device using one of the delivery methods:
  pxe      write a network boot entry for the device
  usb      prepare an offline package with a write script
  network  queue an update for the on-device agent`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}

			res, err := svc.orchestrator.Deploy(commandContext(cmd), deviceID, imageID, method)
			if err != nil {
				return a.fail(err)
			}

			return a.render(res, func(w io.Writer) error {
				if !res.Success {
					_, err := fmt.Fprintf(w, "Deployment %s failed (%s): %s\n", res.DeploymentID, res.ErrorKind, res.Error)
					return err
				}
				fmt.Fprintf(w, "Deployment %s is %s\n", res.DeploymentID, res.Status)
				if d := res.DeliveryResult; d != nil {
					printField(w, "pxe config", d.PXEConfig)
					printField(w, "image url", d.ImageURL)
					printField(w, "package", d.PackageDirectory)
					printField(w, "command", d.CommandID)
					printField(w, "next", d.Instructions)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "target device")
	cmd.Flags().StringVar(&imageID, "image-id", "", "image to deploy")
	cmd.Flags().StringVar(&method, "method", string(models.MethodPXE), "delivery method (pxe|usb|network)")
	cmd.MarkFlagRequired("device-id")
	cmd.MarkFlagRequired("image-id")

	return cmd
}

func newCleanupCommand(a *app) *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the network boot entry of a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}

			res, err := svc.orchestrator.Cleanup(commandContext(cmd), deviceID)
			if err != nil {
				return a.fail(err)
			}

			return a.render(res, func(w io.Writer) error {
				if res.Removed {
					_, err := fmt.Fprintf(w, "Removed %s\n", res.PXEConfig)
					return err
				}
				_, err := fmt.Fprintf(w, "Nothing to clean up for %s\n", deviceID)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "device to clean up")
	cmd.MarkFlagRequired("device-id")

	return cmd
}

func newCompleteCommand(a *app) *cobra.Command {
	var (
		deploymentID string
		failed       bool
		message      string
	)

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Record the outcome of a deployment",
		Long: `Mark a dispatched deployment as completed, or as failed with --failed.
Devices normally report this themselves through the agent API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}

			dep, err := svc.orchestrator.Complete(commandContext(cmd), deploymentID, models.CompletionReport{
				Success: !failed,
				Error:   message,
			})
			if err != nil {
				return a.fail(err)
			}

			return a.render(struct {
				Success    bool               `json:"success"`
				Deployment *models.Deployment `json:"deployment"`
			}{true, dep}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Deployment %s is %s\n", dep.DeploymentID, dep.Status)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&deploymentID, "deployment-id", "", "deployment to complete")
	cmd.Flags().BoolVar(&failed, "failed", false, "record a failure instead of success")
	cmd.Flags().StringVar(&message, "error", "", "failure message")
	cmd.MarkFlagRequired("deployment-id")

	return cmd
}
