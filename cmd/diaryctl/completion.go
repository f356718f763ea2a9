package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/pkg/store"
)

// maxCompletionIDs bounds how many recent entry ids are offered.
const maxCompletionIDs = 100

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(diaryctl completion bash)

  # To load for each session (Linux):
  $ diaryctl completion bash > ~/.local/share/bash-completion/completions/diaryctl

  # To load for each session (macOS with Homebrew):
  $ diaryctl completion bash > $(brew --prefix)/etc/bash_completion.d/diaryctl

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ diaryctl completion zsh > ~/.zsh/completions/_diaryctl
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ diaryctl completion fish > ~/.config/fish/completions/diaryctl.fish

PowerShell:
  PS> diaryctl completion powershell >> $PROFILE

Entry ids complete for 'show' and 'delete'. Ids are read from plaintext
metadata, so completion never asks for the passphrase.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// completeEntryIDs offers recent entry ids with their dates. It never
// creates a journal and never unlocks one.
func completeEntryIDs(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 || home == "" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if _, err := os.Stat(filepath.Join(home, store.DBFileName)); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if err := openJournal(); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	rows, err := db.RecentEntries(maxCompletionIDs)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if strings.HasPrefix(r.ID, toComplete) {
			ids = append(ids, r.ID+"\t"+completionDate(r.CreatedAt))
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// completionDate is the description shown next to an id.
func completionDate(ms int64) string {
	return time.UnixMilli(ms).Local().Format("Mon 2006-01-02")
}
