package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/diaryctl/pkg/journal"
	"github.com/forest6511/diaryctl/pkg/sentiment"
)

// Entry command flags
var (
	writeText   string
	writeAppend bool

	listFrom  string
	listTo    string
	listLimit int

	deleteForce bool
)

const (
	defaultListLimit = 20
	previewWidth     = 60
)

func init() {
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)

	writeCmd.Flags().StringVarP(&writeText, "text", "t", "", "Entry text (default: read from stdin)")
	writeCmd.Flags().BoolVarP(&writeAppend, "append", "a", false, "Append to today's entry instead of replacing it")

	listCmd.Flags().StringVar(&listFrom, "from", "", "First day to list (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&listTo, "to", "", "Last day to list (YYYY-MM-DD, default today)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", defaultListLimit, "Maximum number of entries without --from")
	_ = listCmd.RegisterFlagCompletionFunc("from", cobra.NoFileCompletions)
	_ = listCmd.RegisterFlagCompletionFunc("to", cobra.NoFileCompletions)

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

// writeCmd saves today's entry
var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write today's entry",
	Long: `Write today's entry. There is one entry per day: writing again replaces it,
or extends it with --append. Writing an empty entry removes today's entry.

Examples:
  # Type the entry, finish with Ctrl+D
  diaryctl write

  # Pass the text directly
  diaryctl write -t "Long walk by the river. Felt calm."

  # Pipe from another program
  cat notes.txt | DIARYCTL_PASSPHRASE=... diaryctl write`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		content := writeText
		if !cmd.Flags().Changed("text") {
			var err error
			content, err = readEntryText(stdin, term.IsTerminal(int(os.Stdin.Fd())))
			if err != nil {
				return err
			}
		}

		if writeAppend {
			today, err := journalSvc.Today()
			if err != nil {
				return err
			}
			content = appendEntry(today, content)
		}

		action, entry, err := journalSvc.SaveToday(content)
		if err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}

		switch action {
		case journal.SaveCreated, journal.SaveUpdated:
			fmt.Printf("%s Entry %s (%s)\n", okMark, action, moodText(entry.SentimentLabel))
			if len(entry.Themes) > 0 {
				fmt.Printf("  Themes: %s\n", strings.Join(entry.Themes, ", "))
			}
		case journal.SaveRemoved:
			fmt.Printf("%s Today's entry removed\n", okMark)
		default:
			fmt.Println("No changes")
		}
		return nil
	},
}

// readEntryText reads an entry until EOF, with a hint when a person is typing.
func readEntryText(r io.Reader, interactive bool) (string, error) {
	if interactive {
		fmt.Fprintln(os.Stderr, "Write today's entry. Press Ctrl+D on an empty line to save.")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read entry: %w", err)
	}
	return string(data), nil
}

// appendEntry joins today's content and addition with a blank line.
func appendEntry(today *journal.Entry, addition string) string {
	addition = strings.TrimSpace(addition)
	if today == nil {
		return addition
	}
	if addition == "" {
		return today.Content
	}
	return strings.TrimSpace(today.Content) + "\n\n" + addition
}

// showCmd prints one entry
var showCmd = &cobra.Command{
	Use:               "show [entry-id]",
	Short:             "Show an entry (default: today's)",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeEntryIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		var entry *journal.Entry
		var err error
		if len(args) == 1 {
			entry, err = journalSvc.Get(args[0])
			if errors.Is(err, journal.ErrNotFound) {
				return fmt.Errorf("entry not found: %s", args[0])
			}
		} else {
			entry, err = journalSvc.Today()
		}
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Println("Nothing written today. Run 'diaryctl write' or 'diaryctl prompt' for a starting point.")
			return nil
		}

		printEntry(os.Stdout, entry)
		return nil
	},
}

func printEntry(w io.Writer, e *journal.Entry) {
	bold := color.New(color.Bold)
	bold.Fprintln(w, e.Time().Local().Format("Monday, January 2 2006 15:04"))
	fmt.Fprintf(w, "Mood: %s", moodText(e.SentimentLabel))
	if e.SentimentScore != nil {
		fmt.Fprintf(w, " (%+.1f)", *e.SentimentScore)
	}
	fmt.Fprintln(w)
	if len(e.Themes) > 0 {
		fmt.Fprintf(w, "Themes: %s\n", strings.Join(e.Themes, ", "))
	}
	fmt.Fprintf(w, "ID: %s\n\n", e.ID)
	fmt.Fprintln(w, e.Content)
}

// listCmd lists entries newest first
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries",
	Long: `List entries newest first with a one-line preview.

Examples:
  # The 20 most recent entries
  diaryctl list

  # Everything written in March
  diaryctl list --from 2026-03-01 --to 2026-03-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listLimit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}
		if listTo != "" && listFrom == "" {
			return fmt.Errorf("--to requires --from")
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		var entries []*journal.Entry
		var err error
		if listFrom != "" {
			start, end, perr := parseDayRange(listFrom, listTo, time.Now())
			if perr != nil {
				return perr
			}
			entries, err = journalSvc.ListRange(start, end)
		} else {
			entries, err = journalSvc.Recent(listLimit)
		}
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No entries found")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %-26s  %s\n",
				e.Time().Local().Format("2006-01-02 15:04"),
				moodMark(e.SentimentLabel),
				e.ID,
				preview(e.Content, previewWidth))
		}
		return nil
	},
}

// parseDayRange turns YYYY-MM-DD bounds into [start, end] epoch ms covering
// whole local days. An empty to means the day of now.
func parseDayRange(from, to string, now time.Time) (start, end int64, err error) {
	first, err := time.ParseInLocation(time.DateOnly, from, time.Local)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --from date (use YYYY-MM-DD): %s", from)
	}
	last := now.In(time.Local)
	if to != "" {
		last, err = time.ParseInLocation(time.DateOnly, to, time.Local)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --to date (use YYYY-MM-DD): %s", to)
		}
	}
	y, m, d := last.Date()
	endOfDay := time.Date(y, m, d+1, 0, 0, 0, 0, time.Local).UnixMilli() - 1
	if first.UnixMilli() > endOfDay {
		return 0, 0, fmt.Errorf("--from is after --to")
	}
	return first.UnixMilli(), endOfDay, nil
}

// preview returns the first line of content cut to width runes.
func preview(content string, width int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	if utf8.RuneCountInString(line) <= width {
		return line
	}
	runes := []rune(line)
	return string(runes[:width-1]) + "…"
}

// deleteCmd deletes one entry
var deleteCmd = &cobra.Command{
	Use:               "delete <entry-id>",
	Short:             "Delete an entry",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeEntryIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := ensureUnlocked(); err != nil {
			return err
		}

		entry, err := journalSvc.Get(id)
		if errors.Is(err, journal.ErrNotFound) {
			return fmt.Errorf("entry not found: %s", id)
		}
		if err != nil {
			return err
		}

		if !deleteForce {
			fmt.Fprintf(os.Stderr, "Delete the entry of %s: %q?\n",
				entry.Time().Local().Format("2006-01-02"), preview(entry.Content, previewWidth))
			if !confirm("Are you sure?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := journalSvc.Delete(id); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		fmt.Printf("%s Entry deleted\n", okMark)
		return nil
	},
}

// moodText names a label in its color.
func moodText(l *sentiment.Label) string {
	if l == nil || *l == "" {
		return "unknown"
	}
	return moodColor(*l).Sprint(string(*l))
}

// moodMark is a one-character mood marker for lists and calendars.
func moodMark(l *sentiment.Label) string {
	if l == nil || *l == "" {
		return " "
	}
	return moodColor(*l).Sprint(moodSymbol(*l))
}

func moodSymbol(l sentiment.Label) string {
	switch l {
	case sentiment.Positive:
		return "+"
	case sentiment.Negative:
		return "-"
	default:
		return "·"
	}
}

func moodColor(l sentiment.Label) *color.Color {
	switch l {
	case sentiment.Positive:
		return color.New(color.FgGreen)
	case sentiment.Negative:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}
