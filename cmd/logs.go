package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/plugd/internal/config"
)

func logsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the tail of the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			tail, err := tailFile(config.LogFile(), lines)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no log file yet")
					return nil
				}
				return err
			}
			fmt.Print(tail)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

// tailFile returns the last n lines of a file. The read is bounded to
// the final 256 KiB so huge logs stay cheap.
func tailFile(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	const window = 256 * 1024
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := info.Size() - window
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return "", nil
	}
	all := strings.Split(text, "\n")
	if offset > 0 && len(all) > 0 {
		// First line is likely truncated by the seek.
		all = all[1:]
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n") + "\n", nil
}
