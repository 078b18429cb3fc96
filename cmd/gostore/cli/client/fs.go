package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/spf13/cobra"
)

func NewFsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fs",
		Short: "Manage files on the active backend",
		Long:  "List, upload, download and organize files and folders stored on the active backend.",
	}

	cmd.AddCommand(newFsListCommand())
	cmd.AddCommand(newFsPutCommand())
	cmd.AddCommand(newFsGetCommand())
	cmd.AddCommand(newFsRemoveCommand())
	cmd.AddCommand(newFsMakeDirectoryCommand())
	cmd.AddCommand(newFsRemoveDirectoryCommand())
	cmd.AddCommand(newFsMoveCommand())
	cmd.AddCommand(newFsRenameCommand())
	cmd.AddCommand(newFsPreviewCommand())
	cmd.AddCommand(newFsStatsCommand())

	return cmd
}

func newFsListCommand() *cobra.Command {
	var humanReadable bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List folder entries",
		Long:  "List the folders and files directly inside a folder of the active backend.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) > 0 {
				path = args[0]
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				listing, err := svc.ListChildren(ctx, path)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, folder := range listing.Folders {
					fmt.Fprintf(w, "d\t-\t%s\t-\t%s/\n", folder.OwnerID, folder.Name)
				}
				for _, file := range listing.Files {
					size := fmt.Sprintf("%d", file.Size)
					if humanReadable {
						size = humanize.Bytes(uint64(file.Size))
					}
					fmt.Fprintf(w, "f\t%d\t%s\t%s\t%s\n", file.ID, file.OwnerID, size, file.Name)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable sizes")

	return cmd
}

func newFsPutCommand() *cobra.Command {
	var owner, name, contentType string

	cmd := &cobra.Command{
		Use:   "put <file> [folder]",
		Short: "Upload a local file",
		Long:  "Uploads a local file into a folder of the active backend. The folder must exist.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := "/"
			if len(args) > 1 {
				folder = args[1]
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.IsDir() {
				return gerrors.Newf(gerrors.CodeInvalidArgument, "%s is a directory", args[0])
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				start := time.Now()
				file, err := svc.Upload(ctx, storage.UploadRequest{
					OwnerID:     owner,
					Folder:      folder,
					Name:        name,
					ContentType: contentType,
					Size:        info.Size(),
					Body:        f,
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s) as file %d in %s\n",
					file.Name, humanize.Bytes(uint64(file.Size)), file.ID, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner of the uploaded file")
	cmd.Flags().StringVar(&name, "name", "", "file name (default is the local base name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default is derived from the name)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newFsGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id> [dest]",
		Short: "Download a file",
		Long:  "Downloads a file of the active backend to dest, or to stdout when dest is omitted or '-'.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				rc, err := svc.Download(ctx, id)
				if err != nil {
					return err
				}
				defer rc.Close()

				if len(args) < 2 || args[1] == "-" {
					_, err := io.Copy(cmd.OutOrStdout(), rc)
					return err
				}
				return writeFile(args[1], rc)
			})
		},
	}

	return cmd
}

// writeFile writes r to dest through a temporary file, so a failed
// download never leaves a truncated dest behind.
func writeFile(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".gostore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func newFsRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				if err := svc.DeleteFile(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted file %d\n", id)
				return nil
			})
		},
	}

	return cmd
}

func newFsMakeDirectoryCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Long:  "Creates a folder. The parent folder must exist.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				folder, err := svc.CreateFolder(ctx, owner, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created folder %s\n", folder.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner of the folder")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newFsRemoveDirectoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rmdir <path>",
		Short: "Delete a folder recursively",
		Long:  "Deletes a folder together with all folders and files below it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				if err := svc.DeleteFolder(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted folder %s\n", storage.CleanPath(args[0]))
				return nil
			})
		},
	}

	return cmd
}

func newFsMoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <id> <folder>",
		Short: "Move a file into another folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				file, err := svc.Move(ctx, id, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved file %d to %s\n", file.ID, file.Path)
				return nil
			})
		},
	}

	return cmd
}

func newFsRenameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				file, err := svc.Rename(ctx, id, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed file %d to %s\n", file.ID, file.Name)
				return nil
			})
		},
	}

	return cmd
}

func newFsPreviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <id>",
		Short: "Preview a file",
		Long:  "Prints a time-limited URL for remote backends. Local disk previews are streamed to stdout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				preview, err := svc.Preview(ctx, id)
				if err != nil {
					return err
				}

				if preview.Body != nil {
					defer preview.Body.Close()
					_, err := io.Copy(cmd.OutOrStdout(), preview.Body)
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), preview.URL)
				fmt.Fprintf(cmd.ErrOrStderr(), "Expires %s\n", humanize.Time(preview.Expires))
				return nil
			})
		},
	}

	return cmd
}

func newFsStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show client pool statistics of the active backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc storage.Service) error {
				stats := svc.Stats()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "backend\t%s/%d\n", svc.Kind().Key(), svc.BackendID())
				fmt.Fprintf(w, "active\t%d\n", stats.Active)
				fmt.Fprintf(w, "idle\t%d\n", stats.Idle)
				fmt.Fprintf(w, "created\t%d\n", stats.Created)
				fmt.Fprintf(w, "destroyed\t%d\n", stats.Destroyed)
				fmt.Fprintf(w, "max_total\t%d\n", stats.MaxTotal)
				return w.Flush()
			})
		},
	}

	return cmd
}
