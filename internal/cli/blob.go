package cli

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	blobMIME string
	blobOut  string
)

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Store and fetch binary payloads",
	Long: `Store and fetch binary payloads keyed by the sha256 of their bytes.

Nodes refer to blobs through their hash (see 'contentgraph node add --blob').`,
}

var blobPutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Store a file as a blob and print its hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobPut,
}

var blobGetCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Write a blob to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobGet,
}

func init() {
	blobPutCmd.Flags().StringVar(&blobMIME, "mime", "", "MIME type (detected when empty)")
	blobGetCmd.Flags().StringVarP(&blobOut, "out", "o", "", "output file (default stdout)")

	blobCmd.AddCommand(blobPutCmd)
	blobCmd.AddCommand(blobGetCmd)
}

func runBlobPut(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	mimeType := blobMIME
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	hash, err := contentStore.StoreBlob(cmd.Context(), data, mimeType)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runBlobGet(cmd *cobra.Command, args []string) error {
	blob, err := contentStore.GetBlob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("blob not found: %s", args[0])
	}
	if blobOut == "" {
		_, err = os.Stdout.Write(blob.Data)
		return err
	}
	if err := os.WriteFile(blobOut, blob.Data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d bytes (%s) to %s\n", blob.Size, blob.MIMEType, blobOut)
	return nil
}
