package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhangifonly/termwatch/internal/recovery"
	"github.com/zhangifonly/termwatch/internal/ui"
)

var repairCmd = &cobra.Command{
	Use:   "repair [session-id]",
	Short: "Strip thinking blocks from a session transcript",
	Long: `Repair a corrupted assistant session transcript by removing thinking
blocks from its message entries. A .backup copy is written next to the
transcript before it is modified.

The argument is a session id (as shown by --list) or a transcript path.
With no argument, repairs the most recent transcript for the current
working directory. Use --list to see recent transcripts, --auto to
repair the newest one across all projects.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepair,
}

var (
	repairList bool
	repairAuto bool
	repairYes  bool
)

func init() {
	repairCmd.Flags().BoolVar(&repairList, "list", false, "List recent transcripts and exit")
	repairCmd.Flags().BoolVar(&repairAuto, "auto", false, "Repair the most recent transcript across all projects")
	repairCmd.Flags().BoolVarP(&repairYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	if repairList {
		return listTranscripts()
	}

	path, err := resolveTranscript(args)
	if err != nil {
		return err
	}

	if !repairYes {
		ok, err := confirmRepair(path)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	removed, err := recovery.Repair(path)
	if err != nil {
		return fmt.Errorf("repairing %s: %w", path, err)
	}
	if removed == 0 {
		fmt.Printf("%s already clean, no thinking blocks found\n", path)
		return nil
	}
	fmt.Printf("Repaired %s: removed %d thinking block(s), backup at %s.backup\n", path, removed, path)
	return nil
}

// confirmRepair asks before rewriting the transcript. Non-interactive runs
// must pass --yes so scripts never hang on the prompt.
func confirmRepair(path string) (bool, error) {
	if !ui.IsTerminal() {
		return false, fmt.Errorf("refusing to repair without confirmation; pass --yes")
	}

	if preview, err := recovery.Preview(path, 80); err == nil && preview != "" {
		fmt.Printf("Session: %s\n", ui.Value(preview))
	}
	fmt.Printf("Repair %s? A .backup copy is written first. [y/N]: ", path)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// resolveTranscript turns the CLI argument into a transcript path. A bare
// session id is looked up across all project directories; an existing path
// is used as-is.
func resolveTranscript(args []string) (string, error) {
	if len(args) == 1 {
		arg := args[0]
		if _, err := os.Stat(arg); err == nil {
			return arg, nil
		}
		return findBySessionID(strings.TrimSuffix(arg, ".jsonl"))
	}

	if repairAuto {
		infos, err := recovery.ListRecent(1)
		if err != nil {
			return "", fmt.Errorf("listing transcripts: %w", err)
		}
		if len(infos) == 0 {
			return "", fmt.Errorf("no transcripts found under %s", recovery.TranscriptsRoot())
		}
		return infos[0].Path, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := recovery.FindTranscript(cwd)
	if err != nil {
		return "", fmt.Errorf("no transcript for %s (try --list or --auto): %w", cwd, err)
	}
	return path, nil
}

// findBySessionID locates <id>.jsonl across all project directories,
// picking the newest when the same id appears under several.
func findBySessionID(id string) (string, error) {
	root := recovery.TranscriptsRoot()
	if root == "" {
		return "", fmt.Errorf("no transcripts directory")
	}
	matches, err := filepath.Glob(filepath.Join(root, "*", id+".jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no transcript for session %q (try --list)", id)
	}
	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]) > modTime(matches[j])
	})
	return matches[0], nil
}

func modTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

func listTranscripts() error {
	infos, err := recovery.ListRecent(20)
	if err != nil {
		return fmt.Errorf("listing transcripts: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No transcripts found.")
		return nil
	}

	fmt.Println(ui.Header("Recent transcripts"))
	for _, info := range infos {
		marker := " "
		if info.ThinkingBlocks > 0 {
			marker = ui.Recovery("*")
		}
		fmt.Printf("%s %-24s %s %d msgs, %d thinking\n",
			marker, info.SessionID, ui.Label(info.Project), info.Messages, info.ThinkingBlocks)
		if preview, err := recovery.Preview(info.Path, 64); err == nil && preview != "" {
			fmt.Printf("    %s\n", ui.Label(preview))
		}
	}
	return nil
}
