package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"thinfleet/pkg/models"
	"thinfleet/pkg/output"
)

func newRegisterImageCommand(a *app) *cobra.Command {
	var path, metadata string

	cmd := &cobra.Command{
		Use:   "register-image",
		Short: "Register an OS image file",
		Long: `Hash an image file, copy it into the image directory and record it.
Registering identical content again is a no-op apart from refreshed metadata.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta map[string]any
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
					return a.fail(fmt.Errorf("--metadata must be a JSON object: %v: %w", err, models.ErrValidation))
				}
			}

			svc, err := a.core()
			if err != nil {
				return err
			}

			res, err := svc.images.Register(commandContext(cmd), path, meta)
			if err != nil {
				return a.fail(err)
			}

			return a.render(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Registered image %s\n  file: %s\n  sha256: %s\n  size: %d bytes\n",
					res.ImageID, res.FilePath, res.SHA256, res.FileSize)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "image file to register")
	cmd.Flags().StringVar(&metadata, "metadata", "", `image metadata as JSON, e.g. {"name":"kiosk","version":"2.0"}`)
	cmd.MarkFlagRequired("path")

	return cmd
}

func newListImagesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-images",
		Short: "List registered images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}

			imgs, err := svc.images.List(commandContext(cmd))
			if err != nil {
				return a.fail(err)
			}

			return a.render(struct {
				Success bool            `json:"success"`
				Images  []*models.Image `json:"images"`
			}{true, imgs}, func(w io.Writer) error {
				rows := make([][]string, len(imgs))
				for i, img := range imgs {
					rows[i] = []string{img.ImageID, img.Name, img.Version, strconv.FormatInt(img.FileSize, 10), formatTime(img.CreatedAt)}
				}
				return output.Table(w, []string{"IMAGE ID", "NAME", "VERSION", "SIZE", "CREATED"}, rows)
			})
		},
	}
}

func newVerifyImageCommand(a *app) *cobra.Command {
	var imageID string

	cmd := &cobra.Command{
		Use:   "verify-image",
		Short: "Check a stored image against its recorded SHA-256",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}

			img, err := svc.images.Verify(commandContext(cmd), imageID)
			if err != nil {
				return a.fail(err)
			}

			return a.render(struct {
				Success  bool   `json:"success"`
				ImageID  string `json:"image_id"`
				FilePath string `json:"file_path"`
				SHA256   string `json:"sha256"`
			}{true, img.ImageID, img.FilePath, img.SHA256Hash}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Image %s OK (%s)\n", img.ImageID, img.FilePath)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&imageID, "image-id", "", "image to verify")
	cmd.MarkFlagRequired("image-id")

	return cmd
}
